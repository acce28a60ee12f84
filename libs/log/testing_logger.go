package log

import (
	"os"
	"testing"
)

// TestingLogger returns a Logger which writes plain debug output to STDOUT if
// testing is being run with the verbose (-v) flag, NopLogger otherwise.
//
// Note that the call to TestingLogger() must be made inside a test (not in the
// init func) because the verbose flag is only set at the time of testing.
func TestingLogger() Logger {
	if !testing.Verbose() {
		return NewNopLogger()
	}

	logger, err := NewLogger(os.Stdout, LogFormatPlain, LogLevelDebug)
	if err != nil {
		panic(err)
	}
	return logger
}
