package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/geeko/internal/api"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/errors"
	"github.com/victornm/geeko/internal/liveview"
)

type frame struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

func TestHub_LiveSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, code := f.create(t)
	pid := f.join(t, code, "u1")

	player := f.dial(t, id, "viewer=u1&participant="+pid)
	console := f.dial(t, id, "viewer="+host)

	first := readUntil(t, player, func(fr frame) bool { return fr.Event == domain.EventNameSessionChanged })
	assert.Equal(t, id, first.SessionID)

	require.Eventually(t, func() bool { return f.hub.Connections(id) == 2 }, time.Second, 10*time.Millisecond)

	_, err := f.api.StartSession(ctx, &api.HostRequest{SessionID: id, HostID: host})
	require.NoError(t, err)

	readSnapshot(t, player, func(s domain.Snapshot) bool { return s.Status == domain.StatusInProgress })
	hostView := readSnapshot(t, console, func(s domain.Snapshot) bool { return s.Status == domain.StatusInProgress })
	assert.Equal(t, []int{0, 0, 0}, hostView.Tally, "the host sees the tally while the question is open")

	require.NoError(t, player.WriteJSON(map[string]any{
		"type":    "answer",
		"payload": map[string]any{"question_id": "q1", "selection": map[string]any{"options": []int{1}}},
	}))

	result := readUntil(t, player, func(fr frame) bool { return fr.Event == api.EventAnswerResult })
	var res api.SubmitAnswerResponse
	require.NoError(t, json.Unmarshal(result.Data, &res))
	assert.True(t, res.Answer.IsCorrect)
	assert.Equal(t, 1000, res.Answer.Points)

	closed := readSnapshot(t, console, func(s domain.Snapshot) bool { return s.AnsweredCount == 1 })
	assert.True(t, closed.QuestionClosed)
	assert.Equal(t, []int{0, 1, 0}, closed.Tally)
	require.Len(t, closed.Leaderboard, 1)
	assert.Equal(t, "u1", closed.Leaderboard[0].IdentityID)

	require.NoError(t, player.WriteJSON(map[string]any{
		"type":    "answer",
		"payload": map[string]any{"question_id": "q1", "selection": map[string]any{"options": []int{1}}},
	}))
	assert.Equal(t, errors.ReasonAlreadyAnswered, readError(t, player).Reason)

	require.NoError(t, console.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{}}))
	assert.Equal(t, errors.ReasonNotAuthorized, readError(t, console).Reason, "the host has no participant")

	require.NoError(t, player.WriteJSON(map[string]any{"type": "chat"}))
	assert.Equal(t, errors.CodeInvalidArgument, readError(t, player).Code)

	require.NoError(t, player.Close())
	require.Eventually(t, func() bool { return f.hub.Connections(id) == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_Handshake(t *testing.T) {
	f := newFixture(t)

	id, code := f.create(t)
	pid := f.join(t, code, "u1")

	tests := map[string]struct {
		path   string
		status int
	}{
		"viewer is required":            {path: "/v1/sessions/" + id + "/live", status: http.StatusBadRequest},
		"unknown session":               {path: "/v1/sessions/nope/live?viewer=u1", status: http.StatusNotFound},
		"participant of another viewer": {path: "/v1/sessions/" + id + "/live?viewer=u2&participant=" + pid, status: http.StatusForbidden},
		"unknown participant":           {path: "/v1/sessions/" + id + "/live?viewer=u1&participant=nope", status: http.StatusNotFound},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			conn, res, err := websocket.DefaultDialer.Dial(wsURL(f)+tt.path, nil)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestHub_Close(t *testing.T) {
	f := newFixture(t)

	id, code := f.create(t)
	pid := f.join(t, code, "u1")

	player := f.dial(t, id, "viewer=u1&participant="+pid)
	console := f.dial(t, id, "viewer="+host)
	require.Eventually(t, func() bool { return f.hub.Connections(id) == 2 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.hub.Close(ctx))
	assert.Zero(t, f.hub.Connections(id))

	for name, conn := range map[string]*websocket.Conn{"player": player, "host": console} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var err error
		for err == nil {
			_, _, err = conn.ReadMessage()
		}
		var ce *websocket.CloseError
		assert.ErrorAs(t, err, &ce, "%s socket ends with a close frame", name)
	}

	late := f.dial(t, id, "viewer=u1")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "sockets opened after close are turned away: %v", err)
	assert.Zero(t, f.hub.Connections(id))
}

func TestHub_DeliverWithoutClients(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.hub.Deliver(context.Background(), liveview.Notification{Event: liveview.EventTick, SessionID: "s1"}))
	assert.Equal(t, "websocket", f.hub.Name())
}

func wsURL(f *fixture) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fixture) dial(t *testing.T, sessionID, query string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f)+"/v1/sessions/"+sessionID+"/live?"+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(fr frame) bool) frame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))

		var fr frame
		require.NoError(t, conn.ReadJSON(&fr), "no matching frame before the deadline")
		if match(fr) {
			return fr
		}
	}
}

func readSnapshot(t *testing.T, conn *websocket.Conn, match func(s domain.Snapshot) bool) domain.Snapshot {
	t.Helper()

	var snap domain.Snapshot
	readUntil(t, conn, func(fr frame) bool {
		if fr.Event == api.EventAnswerResult || fr.Event == api.EventError {
			return false
		}
		snap = domain.Snapshot{}
		return json.Unmarshal(fr.Data, &snap) == nil && match(snap)
	})
	return snap
}

func readError(t *testing.T, conn *websocket.Conn) errors.Error {
	t.Helper()

	fr := readUntil(t, conn, func(fr frame) bool { return fr.Event == api.EventError })
	var e errors.Error
	require.NoError(t, json.Unmarshal(fr.Data, &e))
	return e
}
