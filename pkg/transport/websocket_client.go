package transport

import (
	"context"
	stderrors "errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/octerm/octerm-hub/internal"
	"github.com/octerm/octerm-hub/pkg/connection"
	"github.com/octerm/octerm-hub/pkg/errors"
	"github.com/octerm/octerm-hub/pkg/handlers"
	utils "github.com/octerm/octerm-hub/pkg/util"
	"go.uber.org/zap"
)

const (
	DefaultApiKeyHeader = "X-API-Key"

	// Client commands are single text lines; 64KiB leaves room for log bodies.
	DefaultMaxReadMessageSize int64 = 64 << 10

	missingApiKeyBody = "Missing API key in request!"
	invalidApiKeyBody = "No access authorized with given api key!"
)

type WebsocketClientParams struct {
	ApiKeyHeader     string
	AllowAllHosts    bool
	AllowlistedHosts []string
	DenylistedHosts  []string

	// MaxReadMessageSize defaults to DefaultMaxReadMessageSize. A larger frame
	// closes the connection with 1009.
	MaxReadMessageSize int64
	WriteWait          time.Duration
	InboxCapacity      int

	Credentials handlers.CredentialStore
	// Recorder, LogSink and Forwarder are optional.
	Recorder  handlers.ConnectionRecorder
	LogSink   handlers.LogSink
	Forwarder handlers.Forwarder

	Logger *zap.Logger
}

func checkOrigin(r *http.Request, params WebsocketClientParams) bool {
	origin := r.Header.Get("Origin")
	if slices.Contains(params.DenylistedHosts, origin) {
		return false
	}

	if params.AllowAllHosts || origin == "" {
		return true
	}

	return slices.Contains(params.AllowlistedHosts, origin)
}

// WebsocketClientHandler authenticates client upgrade requests and turns each
// accepted socket into a registered connection handle with its own reader.
type WebsocketClientHandler struct {
	upgrader *websocket.Upgrader
	params   WebsocketClientParams
	store    *internal.ClientStore

	log      *zap.Logger
	connTags *utils.ConnTagGenerator
}

func CreateWebsocketHandler(store *internal.ClientStore, params WebsocketClientParams) (*WebsocketClientHandler, error) {
	if store == nil || params.Credentials == nil {
		return nil, stderrors.New("websocket handler requires a client store and a credential store")
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.ApiKeyHeader == "" {
		params.ApiKeyHeader = DefaultApiKeyHeader
	}
	if params.MaxReadMessageSize <= 0 {
		params.MaxReadMessageSize = DefaultMaxReadMessageSize
	}

	return &WebsocketClientHandler{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return checkOrigin(r, params)
			},
		},
		params: params,
		store:  store,

		log:      logger.With(zap.String("handler", "WebSocket")),
		connTags: utils.NewConnTagGenerator(time.Now().UnixMicro()),
	}, nil
}

// HandleUpgrade is the gin handler for the client socket endpoint. It blocks
// until the connection's reader has exited.
func (ws *WebsocketClientHandler) HandleUpgrade(c *gin.Context) {
	log := ws.log.With(
		zap.String("wsConnId", ws.connTags.Tag()),
	)

	client, err := ws.authenticate(c.Request)
	if err != nil {
		var missing *errors.MissingAccessToken
		var invalid *errors.InvalidAccessToken
		switch {
		case stderrors.As(err, &missing):
			log.Info("Rejected WebSocket request without API key")
			c.String(http.StatusBadRequest, missingApiKeyBody)
		case stderrors.As(err, &invalid):
			log.Info("Rejected WebSocket request with unknown API key")
			c.String(http.StatusUnauthorized, invalidApiKeyBody)
		default:
			log.Error("Failed to look up client for WebSocket request", zap.Error(err))
			c.String(http.StatusInternalServerError, "Failed to look up client")
		}
		return
	}

	log = log.With(zap.Int64("clientId", client.Id))
	log.Info("New WebSocket request")

	conn, err := ws.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("Failed to upgrade HTTP request to WebSocket connection", zap.Error(err))
		return
	}
	conn.SetReadLimit(ws.params.MaxReadMessageSize)

	ctx := c.Request.Context()
	h := ws.accept(ctx, client.Id, conn, log)
	if h == nil {
		return
	}

	if ws.params.Recorder != nil {
		if err := ws.params.Recorder.MarkConnected(ctx, client.Id); err != nil {
			log.Warn("Failed to record client connection", zap.Error(err))
		}
	}

	<-h.Done()
}

func (ws *WebsocketClientHandler) authenticate(r *http.Request) (*handlers.Client, error) {
	token := r.Header.Get(ws.params.ApiKeyHeader)
	if token == "" {
		return nil, &errors.MissingAccessToken{Header: ws.params.ApiKeyHeader}
	}

	client, err := ws.params.Credentials.ClientByAccessToken(r.Context(), token)
	if stderrors.Is(err, errors.ErrClientNotFound) {
		return nil, &errors.InvalidAccessToken{}
	}
	if err != nil {
		return nil, err
	}
	return client, nil
}

// accept registers the socket and starts its reader. Returns nil if the registry
// is closed or the handle was replaced by a reconnect before its reader could start.
func (ws *WebsocketClientHandler) accept(ctx context.Context, clientId int64, conn *websocket.Conn, log *zap.Logger) *connection.Handle {
	link := newWsLink(conn, ws.params.WriteWait)
	inbox := connection.NewInbox(ws.params.InboxCapacity)
	h := connection.NewHandle(clientId, link, inbox, log)

	reader := connection.CreateReader(connection.ReaderParams{
		ClientId:  clientId,
		Source:    link,
		Inbox:     inbox,
		LogSink:   ws.params.LogSink,
		Forwarder: ws.params.Forwarder,
		Logger:    log,
	})

	if !ws.store.Insert(h) {
		log.Info("Connection registry closed, dropping connection")
		return nil
	}
	log.Debug("Added client to connection registry")

	started := h.Start(ctx, reader.Run, func(err error) {
		ws.onReaderExit(h, link, err, log)
	})
	if !started {
		log.Info("Connection replaced before its reader started")
		return nil
	}
	return h
}

func (ws *WebsocketClientHandler) onReaderExit(h *connection.Handle, link *wsLink, err error, log *zap.Logger) {
	var unsupported *errors.UnsupportedFrame
	if stderrors.As(err, &unsupported) {
		_ = link.CloseWithCode(websocket.CloseUnsupportedData, "binary frames are not supported")
	} else if err != nil && !stderrors.Is(err, ErrLinkClosed) {
		log.Warn("Connection closed unexpectedly", zap.Error(err))
	}

	if ws.store.RemoveHandle(h) {
		log.Info("Removed disconnected client from connection registry")
	}
	h.Release()
}
