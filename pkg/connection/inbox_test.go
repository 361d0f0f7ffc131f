package connection_test

import (
	"sync"
	"testing"

	"github.com/octerm/octerm-hub/pkg/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pong = connection.Frame{Kind: connection.FrameKind_Pong}

func texts(frames []connection.Frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, string(f.Data))
	}
	return out
}

func TestInbox_TakePongKeepsOtherFramesInOrder(t *testing.T) {
	inbox := connection.NewInbox(0)
	inbox.Push(connection.TextFrame("Response a"))
	inbox.Push(pong)
	inbox.Push(connection.TextFrame("Response b"))
	inbox.Push(pong)
	inbox.Push(connection.TextFrame("Response c"))

	assert.True(t, inbox.TakePong())
	assert.Equal(t, []string{"Response a", "Response b", "Response c"}, texts(inbox.Frames()))

	assert.False(t, inbox.TakePong(), "pongs are consumed by the first scan")
	assert.Equal(t, 3, inbox.Len())
}

func TestInbox_TakePongOnEmpty(t *testing.T) {
	inbox := connection.NewInbox(4)
	assert.False(t, inbox.TakePong())
	assert.Equal(t, 0, inbox.Len())
}

func TestInbox_FullDropsOldestNonPong(t *testing.T) {
	inbox := connection.NewInbox(3)
	require.True(t, inbox.Push(pong))
	require.True(t, inbox.Push(connection.TextFrame("Response 1")))
	require.True(t, inbox.Push(connection.TextFrame("Response 2")))

	assert.False(t, inbox.Push(connection.TextFrame("Response 3")))
	assert.Equal(t, uint64(1), inbox.Dropped())
	assert.Equal(t, 3, inbox.Len())

	assert.True(t, inbox.TakePong(), "pong survives overflow")
	assert.Equal(t, []string{"Response 2", "Response 3"}, texts(inbox.Frames()))
}

func TestInbox_FullOfPongsKeepsReply(t *testing.T) {
	inbox := connection.NewInbox(2)
	require.True(t, inbox.Push(pong))
	require.True(t, inbox.Push(pong))

	assert.False(t, inbox.Push(connection.TextFrame("Response 1")))
	assert.False(t, inbox.Push(pong))
	assert.Equal(t, uint64(2), inbox.Dropped())
	assert.Equal(t, 2, inbox.Len())
	for _, f := range inbox.Frames() {
		assert.Equal(t, connection.FrameKind_Pong, f.Kind)
	}

	assert.True(t, inbox.TakePong())
	assert.Equal(t, 0, inbox.Len())
}

func TestInbox_Drain(t *testing.T) {
	inbox := connection.NewInbox(0)
	inbox.Push(connection.TextFrame("Response x"))
	inbox.Push(pong)

	drained := inbox.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, inbox.Len())
}

func TestInbox_ConcurrentPushAndScan(t *testing.T) {
	inbox := connection.NewInbox(10000)
	wg := sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			inbox.Push(connection.TextFrame("Response"))
			if i%10 == 0 {
				inbox.Push(pong)
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			inbox.TakePong()
		}
	}()

	wg.Wait()
	inbox.TakePong()
	assert.Equal(t, 1000, inbox.Len())
}
