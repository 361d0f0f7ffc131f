package connection

import (
	"context"
	"sync"

	"github.com/octerm/octerm-hub/pkg/errors"
	"go.uber.org/zap"
)

// Handle is the registry's unit of bookkeeping for one live client socket. It owns
// the outbound sender exclusively and shares its Inbox with the connection's reader.
type Handle struct {
	ClientId int64

	sender Sender
	inbox  *Inbox
	log    *zap.Logger

	mut      sync.Mutex
	started  bool
	released bool
	cancel   context.CancelFunc
	done     chan struct{}

	releaseOnce sync.Once
}

func NewHandle(clientId int64, sender Sender, inbox *Inbox, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inbox == nil {
		inbox = NewInbox(DefaultInboxCapacity)
	}

	return &Handle{
		ClientId: clientId,
		sender:   sender,
		inbox:    inbox,
		log:      logger,
		done:     make(chan struct{}),
	}
}

func (h *Handle) Inbox() *Inbox {
	return h.inbox
}

// Done is closed once the reader started by Start has returned, or on Release
// if no reader was ever started.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start runs the connection's reader in its own goroutine. onExit is invoked with
// the reader's result after Done is closed, so it may safely call Release.
// Returns false if the handle was already started or released.
func (h *Handle) Start(parent context.Context, run func(ctx context.Context) error, onExit func(err error)) bool {
	h.mut.Lock()
	if h.started || h.released {
		h.mut.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	h.started = true
	h.cancel = cancel
	h.mut.Unlock()

	go func() {
		err := run(ctx)
		cancel()
		close(h.done)

		if onExit != nil {
			onExit(err)
		}
	}()

	return true
}

func (h *Handle) Send(ctx context.Context, text string) error {
	if err := h.sender.SendText(ctx, text); err != nil {
		return &errors.SendFailed{ClientId: h.ClientId, Cause: err}
	}
	return nil
}

// Probe sends a liveness ping.
func (h *Handle) Probe(ctx context.Context) error {
	if err := h.sender.SendPing(ctx); err != nil {
		return &errors.SendFailed{ClientId: h.ClientId, Cause: err}
	}
	return nil
}

// Release closes the sender, cancels the reader and waits for it to return.
// Safe to call more than once and from any goroutine other than the reader's own.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.mut.Lock()
		h.released = true
		started := h.started
		cancel := h.cancel
		h.mut.Unlock()

		if err := h.sender.Close(); err != nil {
			h.log.Debug("Error closing connection sender", zap.Error(err))
		}

		if !started {
			close(h.done)
			return
		}

		cancel()
		<-h.done
	})
}

func (h *Handle) Released() bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.released
}
