package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/atomicfile"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

const configHeader = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/chainrelay/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.chainrelay" by default, but could be changed via $CR_HOME env
# variable or --home cmd flag.

`

// EnsureRoot creates the root, config, and data directories if they don't exist.
func EnsureRoot(rootDir string) error {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, defaultConfigDir),
		filepath.Join(rootDir, defaultDataDir),
	} {
		if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
			return fmt.Errorf("could not create directory %q: %w", dir, err)
		}
	}
	return nil
}

// WriteConfigFile encodes config as TOML and writes it to the config file
// under rootDir.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteTo(filepath.Join(rootDir, defaultConfigFilePath))
}

// WriteTo writes the config to the exact file specified by path.
func (cfg *Config) WriteTo(path string) error {
	var buffer bytes.Buffer
	buffer.WriteString(configHeader)

	if err := toml.NewEncoder(&buffer).Encode(cfg); err != nil {
		return err
	}
	_, err := atomicfile.WriteAll(path, &buffer, 0644)
	return err
}

// WriteDefaultConfigFileIfNone writes the default config unless a config file
// already exists under rootDir.
func WriteDefaultConfigFileIfNone(rootDir string) error {
	configFilePath := filepath.Join(rootDir, defaultConfigFilePath)
	if _, err := os.Stat(configFilePath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return WriteConfigFile(rootDir, DefaultConfig())
}
