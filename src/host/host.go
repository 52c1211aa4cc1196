// Package host is the native-messaging dispatcher: it reads browser
// messages, drives isolation, the pending-file registry and scan tasks,
// and writes every reply.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/isolation"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/quarantine"
	"github.com/Easy-Infra-Ltd/easy-quarantine-host/src/transport"
)

// Receiver yields inbound messages. Only the listener calls it.
type Receiver interface {
	Receive() (transport.Message, error)
}

// Scanner runs background scan tasks for isolated files.
type Scanner interface {
	Start(ctx context.Context, rec quarantine.PendingFile)
	Wait(ctx context.Context) error
	Active() int
}

// Status is a point-in-time view of the host for the control surface.
type Status struct {
	Listening     bool   `json:"listening"`
	Pending       int    `json:"pending"`
	ActiveScans   int    `json:"activeScans"`
	DefaultRoot   string `json:"defaultRoot"`
	IsolationRoot string `json:"isolationRoot"`
	Version       string `json:"version"`
}

// Host owns the registry and is the only caller of Receive.
type Host struct {
	in          Receiver
	out         transport.Sender
	scans       Scanner
	registry    *quarantine.Registry
	locker      *isolation.Locker
	defaultRoot string
	logger      *slog.Logger

	listening atomic.Bool
	// inflight is held by the listener for the duration of one dispatch.
	inflight sync.Mutex

	mu       sync.Mutex
	lastRoot string
}

// New creates a Host. defaultRoot is used whenever a message leaves the
// isolation path empty. A nil locker disables cross-process locking.
func New(in Receiver, out transport.Sender, scans Scanner, defaultRoot string, locker *isolation.Locker, logger *slog.Logger) *Host {
	return &Host{
		in:          in,
		out:         out,
		scans:       scans,
		registry:    quarantine.NewRegistry(),
		locker:      locker,
		defaultRoot: defaultRoot,
		lastRoot:    defaultRoot,
		logger:      logger.With("area", "host"),
	}
}

// Run reads and dispatches messages until the channel fails, SIGINT/SIGTERM
// arrives or ctx is cancelled. Channel failures are returned wrapped;
// cancellation returns nil once any in-flight dispatch has replied. Scan
// tasks are started with ctx itself, so they outlive a signal-triggered
// return and are awaited by Shutdown.
func (h *Host) Run(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h.logger.Info("listening for browser messages")
	h.listening.Store(true)
	defer h.listening.Store(false)

	errc := make(chan error, 1)
	go func() { errc <- h.listen(sigCtx, ctx) }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("listener: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		// Let a dispatch already under way send its reply.
		h.inflight.Lock()
		h.inflight.Unlock()
		h.logger.Info("listener stopped", "reason", context.Cause(sigCtx))
		return nil
	}
}

func (h *Host) listen(ctx, scanCtx context.Context) error {
	for ctx.Err() == nil {
		msg, err := h.in.Receive()
		if err != nil {
			return err
		}
		if !h.dispatchLocked(ctx, scanCtx, msg) {
			return nil
		}
	}
	return nil
}

// dispatchLocked runs one dispatch under inflight unless ctx is already
// done, in which case the message is dropped and false is returned.
func (h *Host) dispatchLocked(ctx, scanCtx context.Context, msg transport.Message) bool {
	h.inflight.Lock()
	defer h.inflight.Unlock()
	if ctx.Err() != nil {
		h.logger.Warn("message dropped during shutdown", "type", msg.Type())
		return false
	}
	h.dispatch(scanCtx, msg)
	return true
}

// Shutdown waits for running scan tasks until ctx is done.
func (h *Host) Shutdown(ctx context.Context) error {
	if err := h.scans.Wait(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Status reports the host's current state.
func (h *Host) Status() Status {
	h.mu.Lock()
	root := h.lastRoot
	h.mu.Unlock()
	return Status{
		Listening:     h.listening.Load(),
		Pending:       h.registry.Len(),
		ActiveScans:   h.scans.Active(),
		DefaultRoot:   h.defaultRoot,
		IsolationRoot: root,
		Version:       transport.Version,
	}
}

// PendingFile returns the pending record for a notification id.
func (h *Host) PendingFile(id string) (quarantine.PendingFile, bool) {
	return h.registry.Get(id)
}

func (h *Host) setRoot(root string) {
	h.mu.Lock()
	h.lastRoot = root
	h.mu.Unlock()
}

func (h *Host) send(msg any) {
	if err := h.out.Send(msg); err != nil {
		h.logger.Error("sending reply failed", "error", err)
	}
}

// IsChannelFailure reports whether err ended the listener because the
// browser side went away or broke the framing.
func IsChannelFailure(err error) bool {
	return errors.Is(err, transport.ErrChannelClosed) ||
		errors.Is(err, transport.ErrProtocolViolation) ||
		errors.Is(err, transport.ErrDecode)
}
