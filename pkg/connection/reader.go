package connection

import (
	"context"

	"github.com/octerm/octerm-hub/pkg/errors"
	"github.com/octerm/octerm-hub/pkg/handlers"
	"github.com/octerm/octerm-hub/pkg/message/client"
	"go.uber.org/zap"
)

type ReaderParams struct {
	ClientId int64
	Source   FrameSource
	Inbox    *Inbox

	LogSink handlers.LogSink
	// Forwarder may be nil, in which case forwarding commands are dropped.
	Forwarder handlers.Forwarder

	Logger *zap.Logger
}

// Reader drains one connection's inbound frames, dispatching commands to
// collaborators and buffering liveness traffic into the Inbox.
type Reader struct {
	clientId  int64
	source    FrameSource
	inbox     *Inbox
	logSink   handlers.LogSink
	forwarder handlers.Forwarder
	log       *zap.Logger
}

func CreateReader(params ReaderParams) *Reader {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reader{
		clientId:  params.ClientId,
		source:    params.Source,
		inbox:     params.Inbox,
		logSink:   params.LogSink,
		forwarder: params.Forwarder,
		log:       logger,
	}
}

// Run reads until the peer closes, the source fails, or ctx is cancelled. A close
// frame or cancellation returns nil; a binary frame returns *errors.UnsupportedFrame.
func (r *Reader) Run(ctx context.Context) error {
	for {
		frame, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Info("Read error, stopping reader", zap.Error(err))
			return err
		}

		switch frame.Kind {
		case FrameKind_Close:
			r.log.Info("Received close frame from client")
			return nil
		case FrameKind_Binary:
			r.log.Warn("Received binary frame, which clients are not allowed to send", zap.Int("size", len(frame.Data)))
			return &errors.UnsupportedFrame{Kind: frame.Kind.String()}
		case FrameKind_Text:
			r.handleText(ctx, frame)
		case FrameKind_Pong:
			r.buffer(frame)
		case FrameKind_Ping:
			// answered by the transport
		}
	}
}

func (r *Reader) handleText(ctx context.Context, frame Frame) {
	cmd, err := client.ParseClientCommand(string(frame.Data))
	if err != nil {
		r.log.Debug("Dropping malformed client command", zap.Error(err))
		return
	}

	switch cmd.Type {
	case client.ClientCommandType_Log:
		if r.logSink != nil {
			r.logSink.SubmitLog(r.clientId, cmd.PayloadOr(client.DefaultLogBody))
		}
	case client.ClientCommandType_Discord:
		if r.forwarder == nil {
			r.log.Debug("No forwarder configured, dropping forwarding command")
			return
		}
		err := r.forwarder.Forward(ctx, handlers.ForwardedMessage{
			ClientId: r.clientId,
			Content:  cmd.PayloadOr(""),
		})
		if err != nil {
			r.log.Warn("Failed to forward client command", zap.Error(err))
		}
	default:
		r.buffer(frame)
	}
}

func (r *Reader) buffer(frame Frame) {
	if !r.inbox.Push(frame) {
		r.log.Debug("Inbox full, discarded oldest buffered frame")
	}
}
