package connection

import "context"

type FrameKind uint8

const (
	FrameKind_Text FrameKind = iota
	FrameKind_Binary
	FrameKind_Ping
	FrameKind_Pong
	FrameKind_Close
)

func (k FrameKind) String() string {
	switch k {
	case FrameKind_Text:
		return "text"
	case FrameKind_Binary:
		return "binary"
	case FrameKind_Ping:
		return "ping"
	case FrameKind_Pong:
		return "pong"
	case FrameKind_Close:
		return "close"
	}

	return "unknown"
}

// Frame is one raw message as delivered by the transport.
type Frame struct {
	Kind FrameKind
	Data []byte
}

func TextFrame(text string) Frame {
	return Frame{Kind: FrameKind_Text, Data: []byte(text)}
}

// FrameSource yields inbound frames in transport order. Next blocks until a frame
// arrives, the source fails, or ctx is cancelled.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// Sender is the outbound half of a connection. Implementations must be safe for
// concurrent use; Close must be idempotent and must unblock any pending Next on
// the paired FrameSource.
type Sender interface {
	SendText(ctx context.Context, text string) error
	SendPing(ctx context.Context) error
	Close() error
}
