package connection_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/octerm/octerm-hub/pkg/connection"
	"github.com/octerm/octerm-hub/pkg/connection/connectiontest"
	"github.com/octerm/octerm-hub/pkg/errors"
	"github.com/octerm/octerm-hub/pkg/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingForwarder struct {
	mut  sync.Mutex
	msgs []handlers.ForwardedMessage
}

func (f *recordingForwarder) Forward(_ context.Context, msg handlers.ForwardedMessage) error {
	f.mut.Lock()
	defer f.mut.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *recordingForwarder) Messages() []handlers.ForwardedMessage {
	f.mut.Lock()
	defer f.mut.Unlock()
	return append([]handlers.ForwardedMessage(nil), f.msgs...)
}

type readerFixture struct {
	peer      *connectiontest.Peer
	inbox     *connection.Inbox
	sink      *connectiontest.RecordingLogSink
	forwarder *recordingForwarder
	result    chan error
}

func startReader(t *testing.T) *readerFixture {
	t.Helper()

	f := &readerFixture{
		peer:      connectiontest.NewPeer(),
		inbox:     connection.NewInbox(0),
		sink:      &connectiontest.RecordingLogSink{},
		forwarder: &recordingForwarder{},
		result:    make(chan error, 1),
	}

	reader := connection.CreateReader(connection.ReaderParams{
		ClientId:  7,
		Source:    f.peer,
		Inbox:     f.inbox,
		LogSink:   f.sink,
		Forwarder: f.forwarder,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { f.result <- reader.Run(ctx) }()
	return f
}

func (f *readerFixture) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit")
		return nil
	}
}

func TestReader_DispatchesAndBuffers(t *testing.T) {
	f := startReader(t)

	f.peer.Deliver(connection.TextFrame("Log hello world"))
	f.peer.Deliver(connection.TextFrame("Log"))
	f.peer.Deliver(connection.TextFrame("Response 1"))
	f.peer.Deliver(connection.Frame{Kind: connection.FrameKind_Ping})
	f.peer.Deliver(connection.TextFrame("Bogus verb"))
	f.peer.Deliver(pong)
	f.peer.Deliver(connection.TextFrame("Discord motion detected"))
	f.peer.Deliver(connection.TextFrame("Response 2"))
	f.peer.Deliver(connection.Frame{Kind: connection.FrameKind_Close})

	require.NoError(t, f.wait(t))

	assert.Equal(t, []connectiontest.LogEntry{
		{ClientId: 7, Message: "hello world"},
		{ClientId: 7, Message: "-- no log body sent --"},
	}, f.sink.Entries())

	assert.Equal(t, []handlers.ForwardedMessage{{ClientId: 7, Content: "motion detected"}}, f.forwarder.Messages())

	frames := f.inbox.Frames()
	require.Len(t, frames, 3)
	assert.Equal(t, "Response 1", string(frames[0].Data))
	assert.Equal(t, connection.FrameKind_Pong, frames[1].Kind)
	assert.Equal(t, "Response 2", string(frames[2].Data))
}

func TestReader_MalformedCommandKeepsConnectionOpen(t *testing.T) {
	f := startReader(t)

	f.peer.Deliver(connection.TextFrame("Bogus verb"))
	f.peer.Deliver(connection.TextFrame("Log still here"))

	assert.Eventually(t, func() bool {
		return len(f.sink.Entries()) == 1
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-f.result:
		t.Fatalf("reader exited early: %v", err)
	default:
	}
}

func TestReader_BinaryFrameIsFatal(t *testing.T) {
	f := startReader(t)

	f.peer.Deliver(connection.Frame{Kind: connection.FrameKind_Binary, Data: []byte{0x1}})
	err := f.wait(t)

	var unsupported *errors.UnsupportedFrame
	require.True(t, stderrors.As(err, &unsupported))
	assert.Equal(t, "binary", unsupported.Kind)
}

func TestReader_TransportErrorStopsReader(t *testing.T) {
	f := startReader(t)

	f.peer.Close()
	assert.ErrorIs(t, f.wait(t), connectiontest.ErrClosed)
}

func TestReader_PreservesOrder(t *testing.T) {
	f := startReader(t)

	want := []string{}
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		want = append(want, "Response "+s)
		f.peer.Deliver(connection.TextFrame("Response " + s))
	}
	f.peer.Deliver(connection.Frame{Kind: connection.FrameKind_Close})
	require.NoError(t, f.wait(t))

	assert.Equal(t, want, texts(f.inbox.Drain()))
}
