package connection

import "sync"

const DefaultInboxCapacity = 256

// Inbox is the per-connection liveness mailbox. The reader appends frames; the
// heartbeat supervisor scans it for pong replies and keeps everything else in
// arrival order.
type Inbox struct {
	mut      sync.Mutex
	frames   []Frame
	capacity int
	dropped  uint64
}

func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}

	return &Inbox{
		frames:   make([]Frame, 0, 8),
		capacity: capacity,
	}
}

// Push appends f. When the inbox is full the oldest non-pong frame is discarded
// to make room. If only pongs are buffered, an incoming non-pong is discarded
// instead and an incoming pong replaces the oldest pong, so a buffered reply is
// never lost. Returns false if a frame had to be discarded.
func (i *Inbox) Push(f Frame) bool {
	i.mut.Lock()
	defer i.mut.Unlock()

	if len(i.frames) < i.capacity {
		i.frames = append(i.frames, f)
		return true
	}

	i.dropped++
	victim := -1
	for idx, existing := range i.frames {
		if existing.Kind != FrameKind_Pong {
			victim = idx
			break
		}
	}
	if victim < 0 {
		if f.Kind != FrameKind_Pong {
			return false
		}
		victim = 0
	}

	i.frames = append(i.frames[:victim], i.frames[victim+1:]...)
	i.frames = append(i.frames, f)
	return false
}

// TakePong removes every pong frame and reports whether at least one was found.
// All other frames stay in their original order.
func (i *Inbox) TakePong() bool {
	i.mut.Lock()
	defer i.mut.Unlock()

	found := false
	remaining := i.frames[:0]
	for _, f := range i.frames {
		if f.Kind == FrameKind_Pong {
			found = true
			continue
		}
		remaining = append(remaining, f)
	}

	for idx := len(remaining); idx < len(i.frames); idx++ {
		i.frames[idx] = Frame{}
	}
	i.frames = remaining

	return found
}

// Drain empties the inbox and returns its contents in arrival order.
func (i *Inbox) Drain() []Frame {
	i.mut.Lock()
	defer i.mut.Unlock()

	out := i.frames
	i.frames = make([]Frame, 0, 8)
	return out
}

// Frames returns a copy of the buffered frames without consuming them.
func (i *Inbox) Frames() []Frame {
	i.mut.Lock()
	defer i.mut.Unlock()

	out := make([]Frame, len(i.frames))
	copy(out, i.frames)
	return out
}

func (i *Inbox) Len() int {
	i.mut.Lock()
	defer i.mut.Unlock()
	return len(i.frames)
}

func (i *Inbox) Dropped() uint64 {
	i.mut.Lock()
	defer i.mut.Unlock()
	return i.dropped
}
