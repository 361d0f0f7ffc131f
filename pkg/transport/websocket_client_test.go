package transport

import (
	"context"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/octerm/octerm-hub/internal"
	"github.com/octerm/octerm-hub/pkg/broadcast"
	"github.com/octerm/octerm-hub/pkg/connection/connectiontest"
	"github.com/octerm/octerm-hub/pkg/errors"
	"github.com/octerm/octerm-hub/pkg/handlers"
	"github.com/octerm/octerm-hub/pkg/heartbeat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCredentials struct {
	byToken map[string]int64
	err     error
}

func (f *fakeCredentials) ClientByAuthToken(ctx context.Context, token string) (*handlers.Client, error) {
	return nil, errors.ErrClientNotFound
}

func (f *fakeCredentials) ClientByAccessToken(_ context.Context, token string) (*handlers.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.byToken[token]
	if !ok {
		return nil, errors.ErrClientNotFound
	}
	return &handlers.Client{Id: id, Name: "client", Status: handlers.ClientStatus_Enrolled}, nil
}

type fakeRecorder struct {
	mut sync.Mutex
	ids []int64
}

func (r *fakeRecorder) MarkConnected(_ context.Context, clientId int64) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	r.ids = append(r.ids, clientId)
	return nil
}

func (r *fakeRecorder) Ids() []int64 {
	r.mut.Lock()
	defer r.mut.Unlock()
	return append([]int64(nil), r.ids...)
}

type hubFixture struct {
	server   *httptest.Server
	store    *internal.ClientStore
	creds    *fakeCredentials
	sink     *connectiontest.RecordingLogSink
	recorder *fakeRecorder
}

func setupHub(t *testing.T, opts ...func(*WebsocketClientParams)) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &hubFixture{
		store:    internal.CreateClientStore(),
		creds:    &fakeCredentials{byToken: map[string]int64{"token-7": 7, "token-8": 8}},
		sink:     &connectiontest.RecordingLogSink{},
		recorder: &fakeRecorder{},
	}

	params := WebsocketClientParams{
		AllowAllHosts: true,
		WriteWait:     time.Second,
		Credentials:   f.creds,
		Recorder:      f.recorder,
		LogSink:       f.sink,
	}
	for _, opt := range opts {
		opt(&params)
	}
	handler, err := CreateWebsocketHandler(f.store, params)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/api/ws", handler.HandleUpgrade)
	f.server = httptest.NewServer(r)

	t.Cleanup(func() {
		f.store.Close()
		f.server.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, token string) *ws.Conn {
	t.Helper()

	header := http.Header{}
	header.Set(DefaultApiKeyHeader, token)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/ws"

	conn, resp, err := ws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readLoop keeps the client side processing control frames (answering pings)
// and collects text messages and the final close error.
func readLoop(conn *ws.Conn) (<-chan string, <-chan error) {
	texts := make(chan string, 16)
	closed := make(chan error, 1)
	go func() {
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				closed <- err
				return
			}
			texts <- string(payload)
		}
	}()
	return texts, closed
}

func TestHandleUpgrade_MissingApiKey(t *testing.T) {
	f := setupHub(t)

	resp, err := http.Get(f.server.URL + "/api/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing API key in request!", string(body))
}

func TestHandleUpgrade_InvalidApiKey(t *testing.T) {
	f := setupHub(t)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/ws", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "No access authorized with given api key!", string(body))
	assert.Equal(t, 0, f.store.Len())
}

func TestHandleUpgrade_CredentialStoreFailure(t *testing.T) {
	f := setupHub(t)
	f.creds.err = stderrors.New("db down")

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/ws", nil)
	req.Header.Set("X-API-Key", "token-7")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandleUpgrade_RegistersAndDispatches(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t, "token-7")

	require.Eventually(t, func() bool { return f.store.HasClient(7) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return len(f.recorder.Ids()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("Log hello world")))
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("Bogus verb")))
	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("Response 200")))

	assert.Eventually(t, func() bool {
		return len(f.sink.Entries()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, connectiontest.LogEntry{ClientId: 7, Message: "hello world"}, f.sink.Entries()[0])

	h, ok := f.store.Get(7)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return h.Inbox().Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Response 200", string(h.Inbox().Frames()[0].Data))
}

func TestHandleUpgrade_ClientCloseRemovesRegistration(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t, "token-7")
	require.Eventually(t, func() bool { return f.store.HasClient(7) }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, "bye")))

	assert.Eventually(t, func() bool { return !f.store.HasClient(7) }, time.Second, 5*time.Millisecond)
}

func TestHandleUpgrade_BinaryFrameClosesWithUnsupportedData(t *testing.T) {
	f := setupHub(t)
	conn := f.dial(t, "token-7")
	_, closed := readLoop(conn)
	require.Eventually(t, func() bool { return f.store.HasClient(7) }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(ws.BinaryMessage, []byte{0xde, 0xad}))

	select {
	case err := <-closed:
		assert.True(t, ws.IsCloseError(err, ws.CloseUnsupportedData), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never closed the connection")
	}
	assert.Eventually(t, func() bool { return !f.store.HasClient(7) }, time.Second, 5*time.Millisecond)
}

func TestHandleUpgrade_OversizedMessageClosesWithTooBig(t *testing.T) {
	f := setupHub(t, func(p *WebsocketClientParams) { p.MaxReadMessageSize = 32 })
	conn := f.dial(t, "token-7")
	_, closed := readLoop(conn)
	require.Eventually(t, func() bool { return f.store.HasClient(7) }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(ws.TextMessage, []byte("Log "+strings.Repeat("x", 64))))

	select {
	case err := <-closed:
		assert.True(t, ws.IsCloseError(err, ws.CloseMessageTooBig), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never closed the connection")
	}
	assert.Eventually(t, func() bool { return !f.store.HasClient(7) }, time.Second, 5*time.Millisecond)
	assert.Empty(t, f.sink.Entries())
}

func TestHandleUpgrade_ClosedRegistryDropsConnection(t *testing.T) {
	f := setupHub(t)
	f.store.Close()

	conn := f.dial(t, "token-7")
	_, closed := readLoop(conn)

	select {
	case err := <-closed:
		assert.True(t, ws.IsCloseError(err, ws.CloseGoingAway), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never closed the connection")
	}
	assert.False(t, f.store.HasClient(7))
	assert.Empty(t, f.recorder.Ids())
}

func TestHandleUpgrade_ReconnectReplacesPriorConnection(t *testing.T) {
	f := setupHub(t)
	first := f.dial(t, "token-7")
	_, firstClosed := readLoop(first)
	require.Eventually(t, func() bool { return f.store.HasClient(7) }, time.Second, 5*time.Millisecond)
	original, _ := f.store.Get(7)

	second := f.dial(t, "token-7")
	secondTexts, _ := readLoop(second)

	require.Eventually(t, func() bool {
		current, ok := f.store.Get(7)
		return ok && current != original
	}, time.Second, 5*time.Millisecond)

	select {
	case <-firstClosed:
	case <-time.After(2 * time.Second):
		t.Fatal("replaced connection was not closed")
	}
	assert.Equal(t, 1, f.store.Len())

	gateway := broadcast.CreateGateway(f.store, nil, nil)
	assert.Equal(t, broadcast.Result{Sent: 1}, gateway.Broadcast(context.Background(), "Update now"))

	select {
	case msg := <-secondTexts:
		assert.Equal(t, "Update now", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}

func TestHeartbeat_EvictsClientThatStopsAnsweringPings(t *testing.T) {
	f := setupHub(t)

	responsive := f.dial(t, "token-7")
	readLoop(responsive)
	silent := f.dial(t, "token-8")
	_ = silent // never reads, so its pings are never answered

	require.Eventually(t, func() bool { return f.store.Len() == 2 }, time.Second, 5*time.Millisecond)

	supervisor := heartbeat.CreateSupervisor(heartbeat.SupervisorParams{
		Store: f.store,
		Grace: 300 * time.Millisecond,
		Clock: clockwork.NewRealClock(),
	})

	report := supervisor.RunCycle(context.Background())

	assert.Equal(t, 2, report.Probed)
	assert.Equal(t, 1, report.Replied)
	assert.Equal(t, 1, report.Evicted)
	assert.True(t, f.store.HasClient(7))
	assert.False(t, f.store.HasClient(8))
}
