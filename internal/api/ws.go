package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/liveview"
	"github.com/victornm/geeko/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBuffer     = 16

	EventAnswerResult = "answer.result"
	EventError        = "error"
)

// Message is a socket frame that is not a snapshot push.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Inbound is a frame sent by a participant client.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type inboundAnswer struct {
	QuestionID string           `json:"question_id"`
	Selection  domain.Selection `json:"selection"`
}

// Hub keeps the live sockets of this instance and pushes snapshots to them. Participants
// get the pushed participant view, hosts get their own view rebuilt per push.
type Hub struct {
	api      *API
	view     *liveview.Service
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
	serving sync.WaitGroup
}

type client struct {
	sessionID     string
	viewerID      string
	participantID string
	host          bool

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func NewHub(a *API) *Hub {
	return &Hub{
		api:  a,
		view: a.lv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

func (*Hub) Name() string { return "websocket" }

func (h *Hub) Deliver(ctx context.Context, n liveview.Notification) error {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients[n.SessionID]))
	for c := range h.clients[n.SessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return nil
	}

	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	for _, c := range clients {
		if !c.host {
			c.enqueue(b)
			continue
		}

		hv, err := h.view.Snapshot(ctx, liveview.SnapshotRequest{SessionID: n.SessionID, ViewerID: c.viewerID})
		if err != nil {
			slog.ErrorContext(ctx, "hub: host snapshot failed", "session_id", n.SessionID, "error", err)
			continue
		}
		hb, err := json.Marshal(liveview.Notification{Event: n.Event, SessionID: n.SessionID, Snapshot: *hv})
		if err != nil {
			return err
		}
		c.enqueue(hb)
	}

	return nil
}

// Connections returns the number of sockets open on the session.
func (h *Hub) Connections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[sessionID])
}

// Close sends a close frame to every socket and waits, until ctx is done, for their
// handlers to return. Sockets upgraded afterwards are closed straight away.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	var open []*client
	for _, cs := range h.clients {
		for c := range cs {
			open = append(open, c)
		}
	}
	h.mu.Unlock()

	for _, c := range open {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "hub: closed", "clients", len(open))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register reports false once the hub is closed.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	if h.clients[c.sessionID] == nil {
		h.clients[c.sessionID] = make(map[*client]struct{})
	}
	h.clients[c.sessionID][c] = struct{}{}
	h.serving.Add(1)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients[c.sessionID], c)
	if len(h.clients[c.sessionID]) == 0 {
		delete(h.clients, c.sessionID)
	}
	h.mu.Unlock()

	c.close()
}

// enqueue drops the oldest frame when the client is not keeping up.
func (c *client) enqueue(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- b:
		return
	default:
	}

	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *client) enqueueJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeLive upgrades GET /v1/sessions/:id/live?viewer=&participant= to a socket receiving
// snapshot pushes. Participants may submit answers over it.
func (h *Hub) ServeLive(gc *gin.Context) {
	ctx := gc.Request.Context()
	sessionID := gc.Param("id")
	viewerID := gc.Query("viewer")
	participantID := gc.Query("participant")

	if viewerID == "" {
		abort(gc, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("viewer is required")))
		return
	}

	ss, err := h.api.ss.GetSession(ctx, session.GetSessionRequest{SessionID: sessionID})
	if err != nil {
		abort(gc, err)
		return
	}

	c := &client{
		sessionID: sessionID,
		viewerID:  viewerID,
		host:      viewerID == ss.HostID,
		send:      make(chan []byte, sendBuffer),
	}

	if participantID != "" {
		p, err := h.api.participantOf(ctx, sessionID, participantID)
		if err != nil {
			abort(gc, err)
			return
		}
		if p.IdentityID != viewerID {
			abort(gc, errors.Because(errors.ReasonNotAuthorized, errors.WithMessagef("participant %s belongs to another identity", participantID)))
			return
		}
		c.participantID = participantID
	}

	conn, err := h.upgrader.Upgrade(gc.Writer, gc.Request, nil)
	if err != nil {
		slog.ErrorContext(ctx, "hub: upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	slog.InfoContext(ctx, "hub: client connected", "session_id", sessionID, "viewer", viewerID, "host", c.host)

	snap, err := h.view.Snapshot(ctx, liveview.SnapshotRequest{SessionID: sessionID, ViewerID: viewerID})
	if err == nil {
		c.enqueueJSON(liveview.Notification{Event: domain.EventNameSessionChanged, SessionID: sessionID, Snapshot: *snap})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(conn, c.send)
		// Unblocks the reader when the peer stopped reading.
		_ = conn.Close()
	}()

	h.readLoop(context.WithoutCancel(ctx), conn, c)

	h.unregister(c)
	<-done
	h.serving.Done()
	slog.InfoContext(ctx, "hub: client disconnected", "session_id", sessionID, "viewer", viewerID)
}

func (h *Hub) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var in Inbound
		if err := conn.ReadJSON(&in); err != nil {
			return
		}

		switch in.Type {
		case "answer":
			h.answer(ctx, c, in.Payload)
		default:
			c.enqueueJSON(Message{Event: EventError, Data: errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("unsupported message type %q", in.Type))})
		}
	}
}

func (h *Hub) answer(ctx context.Context, c *client, payload json.RawMessage) {
	if c.participantID == "" {
		c.enqueueJSON(Message{Event: EventError, Data: errors.Because(errors.ReasonNotAuthorized,
			errors.WithMessagef("only participants can answer"))})
		return
	}

	var in inboundAnswer
	if err := json.Unmarshal(payload, &in); err != nil {
		c.enqueueJSON(Message{Event: EventError, Data: errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid answer payload"))})
		return
	}

	res, err := h.api.SubmitAnswer(ctx, &SubmitAnswerRequest{
		SessionID:     c.sessionID,
		ParticipantID: c.participantID,
		QuestionID:    in.QuestionID,
		Selection:     in.Selection,
	})
	if err != nil {
		c.enqueueJSON(Message{Event: EventError, Data: errors.Convert(err)})
		return
	}

	c.enqueueJSON(Message{Event: EventAnswerResult, Data: res})
}

func writeLoop(conn *websocket.Conn, send <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
