// Package connectiontest provides in-memory transports for exercising connection
// handles without a network.
package connectiontest

import (
	"context"
	"errors"
	"sync"

	"github.com/octerm/octerm-hub/pkg/connection"
)

var ErrClosed = errors.New("fake connection closed")

// Peer is an in-memory connection. The hub side uses it as both Sender and
// FrameSource; tests play the client by calling Deliver and inspecting Sent.
// With AutoPong set, every ping is answered with a pong frame.
type Peer struct {
	mut      sync.Mutex
	closed   bool
	autoPong bool
	failSend bool
	texts    []string
	pings    int
	closes   int

	incoming chan connection.Frame
	closedCh chan struct{}
}

func NewPeer() *Peer {
	return &Peer{
		incoming: make(chan connection.Frame, 64),
		closedCh: make(chan struct{}),
	}
}

func (p *Peer) SetAutoPong(v bool) {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.autoPong = v
}

// SetFailSend makes every subsequent send fail, as for a dead socket.
func (p *Peer) SetFailSend(v bool) {
	p.mut.Lock()
	defer p.mut.Unlock()
	p.failSend = v
}

// Deliver queues a frame as if the client had sent it.
func (p *Peer) Deliver(f connection.Frame) {
	select {
	case p.incoming <- f:
	case <-p.closedCh:
	}
}

func (p *Peer) SendText(_ context.Context, text string) error {
	p.mut.Lock()
	defer p.mut.Unlock()

	if p.closed || p.failSend {
		return ErrClosed
	}
	p.texts = append(p.texts, text)
	return nil
}

func (p *Peer) SendPing(_ context.Context) error {
	p.mut.Lock()
	if p.closed || p.failSend {
		p.mut.Unlock()
		return ErrClosed
	}
	p.pings++
	autoPong := p.autoPong
	p.mut.Unlock()

	if autoPong {
		p.Deliver(connection.Frame{Kind: connection.FrameKind_Pong})
	}
	return nil
}

func (p *Peer) Close() error {
	p.mut.Lock()
	defer p.mut.Unlock()

	p.closes++
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closedCh)
	return nil
}

func (p *Peer) Next(ctx context.Context) (connection.Frame, error) {
	select {
	case f := <-p.incoming:
		return f, nil
	case <-p.closedCh:
		return connection.Frame{}, ErrClosed
	case <-ctx.Done():
		return connection.Frame{}, ctx.Err()
	}
}

func (p *Peer) Sent() []string {
	p.mut.Lock()
	defer p.mut.Unlock()

	out := make([]string, len(p.texts))
	copy(out, p.texts)
	return out
}

func (p *Peer) Pings() int {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.pings
}

func (p *Peer) Closed() bool {
	p.mut.Lock()
	defer p.mut.Unlock()
	return p.closed
}

// RecordingLogSink collects submitted logs.
type RecordingLogSink struct {
	mut     sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	ClientId int64
	Message  string
}

func (s *RecordingLogSink) SubmitLog(clientId int64, message string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.entries = append(s.entries, LogEntry{ClientId: clientId, Message: message})
}

func (s *RecordingLogSink) Entries() []LogEntry {
	s.mut.Lock()
	defer s.mut.Unlock()

	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
