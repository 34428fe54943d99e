// Package shutdown runs cleanup callbacks when a command finishes or the
// process receives a termination signal.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Handler manages graceful shutdown.
type Handler struct {
	mu sync.Mutex

	// Callbacks
	callbacks     []Callback
	callbackNames []string

	// State
	isShuttingDown atomic.Bool
	done           chan struct{}
	timeout        time.Duration
	result         *Result

	// Context
	ctx    context.Context
	cancel context.CancelFunc

	// Signal handling
	sigChan chan os.Signal

	// Notification
	onShutdownStart func(reason string)
	onShutdownDone  func(result *Result)
}

// Callback is a function called during shutdown.
type Callback func(ctx context.Context) error

// Config holds shutdown configuration.
type Config struct {
	Timeout         time.Duration
	Signals         []os.Signal
	OnShutdownStart func(reason string)
	OnShutdownDone  func(result *Result)
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 10 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// New creates a shutdown handler whose context derives from parent.
func New(parent context.Context, cfg Config) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if len(cfg.Signals) == 0 {
		cfg.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}

	ctx, cancel := context.WithCancel(parent)

	h := &Handler{
		done:            make(chan struct{}),
		timeout:         cfg.Timeout,
		ctx:             ctx,
		cancel:          cancel,
		sigChan:         make(chan os.Signal, 1),
		onShutdownStart: cfg.OnShutdownStart,
		onShutdownDone:  cfg.OnShutdownDone,
	}

	signal.Notify(h.sigChan, cfg.Signals...)

	return h
}

// Register registers a shutdown callback with a name. Callbacks run in
// reverse registration order.
func (h *Handler) Register(name string, callback Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.callbacks = append(h.callbacks, callback)
	h.callbackNames = append(h.callbackNames, name)
}

// RegisterFunc registers a cleanup function that cannot fail.
func (h *Handler) RegisterFunc(name string, fn func()) {
	h.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// RegisterCloser registers a Close method, such as an alert sink's.
func (h *Handler) RegisterCloser(name string, c interface{ Close() error }) {
	h.Register(name, func(ctx context.Context) error {
		return c.Close()
	})
}

// Context returns the shutdown context.
// This context is cancelled when shutdown begins.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// IsShuttingDown returns whether shutdown is in progress.
func (h *Handler) IsShuttingDown() bool {
	return h.isShuttingDown.Load()
}

// Done returns a channel that is closed when shutdown completes.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Listen shuts down on the first signal. It returns once shutdown has
// started for any reason.
func (h *Handler) Listen() {
	select {
	case sig := <-h.sigChan:
		h.shutdown("signal: " + sig.String())
	case <-h.ctx.Done():
	}
}

// Shutdown cancels the context, runs the callbacks once and returns their
// result. Concurrent and repeated calls wait for and share the first result.
func (h *Handler) Shutdown() *Result {
	return h.shutdown("complete")
}

func (h *Handler) shutdown(reason string) *Result {
	if !h.isShuttingDown.CompareAndSwap(false, true) {
		<-h.done
		return h.result
	}

	start := time.Now()
	signal.Stop(h.sigChan)

	if h.onShutdownStart != nil {
		h.onShutdownStart(reason)
	}

	h.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), h.timeout)
	defer shutdownCancel()

	h.mu.Lock()
	callbacks := make([]Callback, len(h.callbacks))
	names := make([]string, len(h.callbackNames))
	copy(callbacks, h.callbacks)
	copy(names, h.callbackNames)
	h.mu.Unlock()

	result := &Result{Reason: reason}
	for i := len(callbacks) - 1; i >= 0; i-- {
		if err := h.executeCallback(shutdownCtx, names[i], callbacks[i]); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	result.Elapsed = time.Since(start)

	h.result = result
	if h.onShutdownDone != nil {
		h.onShutdownDone(result)
	}

	close(h.done)
	return result
}

// executeCallback executes a shutdown callback with timeout handling.
func (h *Handler) executeCallback(ctx context.Context, name string, callback Callback) error {
	done := make(chan error, 1)

	go func() {
		done <- callback(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &CallbackError{CallbackName: name, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &TimeoutError{CallbackName: name}
	}
}

// Trigger simulates a termination signal.
func (h *Handler) Trigger() {
	select {
	case h.sigChan <- syscall.SIGTERM:
	default:
		// Signal already pending
	}
}

// TimeoutError is returned when a callback times out.
type TimeoutError struct {
	CallbackName string
}

func (e *TimeoutError) Error() string {
	return "shutdown callback timed out: " + e.CallbackName
}

// CallbackError wraps an error returned by a callback.
type CallbackError struct {
	CallbackName string
	Err          error
}

func (e *CallbackError) Error() string {
	return "shutdown callback " + e.CallbackName + ": " + e.Err.Error()
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Result holds the result of a shutdown operation.
type Result struct {
	Reason  string
	Elapsed time.Duration
	Errors  []error
}

// HasErrors returns whether any errors occurred during shutdown.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}
