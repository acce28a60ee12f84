package service

import (
	"context"
	"errors"
	"sync"

	"github.com/chainrelay/chainrelay/libs/log"
)

var (
	// ErrAlreadyStarted is returned when somebody tries to start an already
	// running service.
	ErrAlreadyStarted = errors.New("already started")
	// ErrAlreadyStopped is returned when somebody tries to start a service that
	// has already been stopped. Services cannot be restarted.
	ErrAlreadyStopped = errors.New("already stopped")
)

// Service defines a service that can be started and stopped.
type Service interface {
	// Start is called to start the service, which should run until
	// the context terminates. If the service is already running, Start
	// must report an error.
	Start(context.Context) error

	// Return true if the service is running
	IsRunning() bool

	// String representation of the service
	String() string

	// Wait blocks until the service is stopped.
	Wait()
}

// Implementation describes the implementation that the
// BaseService implementation wraps.
type Implementation interface {
	// Called by the Services Start Method
	OnStart(context.Context) error

	// Called when the service's context is canceled or Stop is called.
	OnStop()
}

/*
BaseService drives the lifecycle of an Implementation. A service runs from a
successful Start until either its context is canceled or Stop is called, at
which point OnStop runs exactly once and Wait returns.

Typical usage:

	type Session struct {
		service.BaseService
		// private fields
	}

	func NewSession(logger log.Logger) *Session {
		s := &Session{}
		s.BaseService = *service.NewBaseService(logger, "Session", s)
		return s
	}

	func (s *Session) OnStart(ctx context.Context) error {
		go s.recvRoutine(ctx)
		return nil
	}

	func (s *Session) OnStop() {}
*/
type BaseService struct {
	logger log.Logger
	name   string
	impl   Implementation

	mtx     sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	quit    chan struct{}
}

// NewBaseService creates a new BaseService.
func NewBaseService(logger log.Logger, name string, impl Implementation) *BaseService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &BaseService{
		logger: logger,
		name:   name,
		impl:   impl,
		quit:   make(chan struct{}),
	}
}

// Start starts the service and calls its OnStart method with a context that
// is canceled when the service stops.
func (bs *BaseService) Start(ctx context.Context) error {
	bs.mtx.Lock()
	if bs.stopped {
		bs.mtx.Unlock()
		bs.logger.Error("not starting service; already stopped", "service", bs.name)
		return ErrAlreadyStopped
	}
	if bs.started {
		bs.mtx.Unlock()
		return ErrAlreadyStarted
	}
	bs.started = true
	ctx, bs.cancel = context.WithCancel(ctx)
	bs.mtx.Unlock()

	bs.logger.Debug("starting service", "service", bs.name)

	if err := bs.impl.OnStart(ctx); err != nil {
		bs.mtx.Lock()
		bs.started = false
		bs.cancel()
		bs.mtx.Unlock()
		return err
	}

	go func() {
		select {
		case <-bs.quit:
		case <-ctx.Done():
			bs.Stop()
		}
	}()

	return nil
}

// Stop stops the service, calling OnStop if the service was running. It is
// safe to call Stop more than once and from multiple goroutines.
func (bs *BaseService) Stop() {
	bs.mtx.Lock()
	if bs.stopped || !bs.started {
		bs.mtx.Unlock()
		return
	}
	bs.stopped = true
	bs.mtx.Unlock()

	bs.logger.Debug("stopping service", "service", bs.name)
	bs.cancel()
	bs.impl.OnStop()
	close(bs.quit)
}

// IsRunning implements Service by returning true or false depending on the
// service's state.
func (bs *BaseService) IsRunning() bool {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()
	return bs.started && !bs.stopped
}

// Wait blocks until the service is stopped.
func (bs *BaseService) Wait() { <-bs.quit }

// Done returns a channel that is closed once the service has stopped.
func (bs *BaseService) Done() <-chan struct{} { return bs.quit }

// String implements Service by returning a string representation of the service.
func (bs *BaseService) String() string { return bs.name }
