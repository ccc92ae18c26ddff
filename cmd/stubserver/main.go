// Command stubserver is an in-memory chat service for local development and
// manual testing of the sync engine. It serves the REST surface over
// fasthttp and a realtime websocket feed that broadcasts every mutation to
// all connected clients.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

type envelope struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// hub fans realtime envelopes out to connected websocket clients. Slow
// clients are dropped rather than buffered without bound.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev envelope) {
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("broadcast_marshal_failed", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (c *client) writePump(h *hub) {
	defer c.conn.Close()
	for b := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
			h.remove(c)
			return
		}
	}
}

func (c *client) readPump(h *hub) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	// inbound frames are drained only to detect disconnects
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// state is the stub's in-memory message and blob storage.
type state struct {
	mu       sync.Mutex
	messages map[string]models.Message
	blobs    map[string][]byte
}

func newState() *state {
	return &state{
		messages: make(map[string]models.Message),
		blobs:    make(map[string][]byte),
	}
}

func main() {
	_ = godotenv.Load(".env")
	restAddr := flag.String("rest", ":8081", "REST listen address")
	rtAddr := flag.String("realtime", ":8082", "realtime/metrics listen address")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Init(*logLevel, "text")
	defer logger.Sync()

	st := newState()
	h := newHub()

	go serveREST(*restAddr, st, h)
	go serveRealtime(*rtAddr, h)

	logger.Info("stubserver_started", "rest", *restAddr, "realtime", *rtAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("stubserver_stopping")
}

func serveREST(addr string, st *state, h *hub) {
	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())
		switch {
		case method == fasthttp.MethodPost && path == "/v1/messages":
			handleCreate(ctx, st, h)
		case method == fasthttp.MethodDelete && len(path) > len("/v1/messages/") && path[:len("/v1/messages/")] == "/v1/messages/":
			handleDelete(ctx, st, h, path[len("/v1/messages/"):])
		case method == fasthttp.MethodPost && path == "/v1/messages/flush":
			handleFlush(ctx, st, h)
		case method == fasthttp.MethodPost && path == "/v1/blobs":
			handleUpload(ctx, st)
		case method == fasthttp.MethodGet && path == "/healthz":
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("ok")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
	if err := fasthttp.ListenAndServe(addr, handler); err != nil {
		logger.Error("rest_listener_failed", "addr", addr, "error", err)
		os.Exit(1)
	}
}

func handleCreate(ctx *fasthttp.RequestCtx, st *state, h *hub) {
	var m models.Message
	if err := json.Unmarshal(ctx.PostBody(), &m); err != nil {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		fmt.Fprintf(ctx, "bad message payload: %v", err)
		return
	}
	serverID := "srv-" + uuid.NewString()
	ts := time.Now().UTC().UnixMilli()

	confirmed := m.WithServerIdentity(serverID, ts, nil)
	st.mu.Lock()
	st.messages[serverID] = confirmed
	st.mu.Unlock()
	logger.Info("message_created", "id", serverID, "author", m.Author)

	if raw, err := json.Marshal(confirmed); err == nil {
		h.broadcast(envelope{Type: "message_new", Message: raw})
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(map[string]any{"id": serverID, "ts": ts})
}

func handleDelete(ctx *fasthttp.RequestCtx, st *state, h *hub, id string) {
	st.mu.Lock()
	m, ok := st.messages[id]
	if ok {
		delete(st.messages, id)
	}
	st.mu.Unlock()
	if !ok {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	logger.Info("message_deleted", "id", id)
	if raw, err := json.Marshal(m); err == nil {
		h.broadcast(envelope{Type: "message_delete", Message: raw})
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func handleFlush(ctx *fasthttp.RequestCtx, st *state, h *hub) {
	st.mu.Lock()
	n := len(st.messages)
	st.messages = make(map[string]models.Message)
	st.mu.Unlock()
	logger.Info("messages_flushed", "count", n)
	h.broadcast(envelope{Type: "flush"})
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func handleUpload(ctx *fasthttp.RequestCtx, st *state) {
	id := string(ctx.QueryArgs().Peek("id"))
	if id == "" {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("missing id")
		return
	}
	data := append([]byte(nil), ctx.PostBody()...)
	blobID := "blob-" + uuid.NewString()
	st.mu.Lock()
	st.blobs[blobID] = data
	st.mu.Unlock()
	logger.Info("blob_stored", "id", id, "blob_id", blobID, "bytes", len(data))
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	json.NewEncoder(ctx).Encode(map[string]string{"blob_id": blobID})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func serveRealtime(addr string, h *hub) {
	r := mux.NewRouter()
	r.HandleFunc("/realtime", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			logger.Warn("ws_upgrade_failed", "error", err)
			return
		}
		c := &client{conn: conn, send: make(chan []byte, 64)}
		h.add(c)
		logger.Info("ws_client_connected", "remote", req.RemoteAddr)
		go c.writePump(h)
		go c.readPump(h)
	})
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("realtime_listener_failed", "addr", addr, "error", err)
		os.Exit(1)
	}
}
