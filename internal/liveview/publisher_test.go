package liveview_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/event"
	"github.com/victornm/geeko/internal/liveview"
	"github.com/victornm/geeko/internal/participant"
	"github.com/victornm/geeko/internal/questionset"
	"github.com/victornm/geeko/internal/score"
	"github.com/victornm/geeko/internal/session"
	"github.com/victornm/geeko/internal/store/memory"
)

const host = "host"

func TestPublisher_Publish(t *testing.T) {
	type outputs struct {
		notifications []liveview.Notification
	}

	tests := map[string]struct {
		act    func(t *testing.T, f *fixture)
		assert func(t *testing.T, out outputs)
	}{
		"should push a snapshot after a transition": {
			act: func(t *testing.T, f *fixture) {
				id, _ := f.create(t)
				f.start(t, id)
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.notifications, 1)
				n := out.notifications[0]
				assert.Equal(t, domain.EventNameSessionChanged, n.Event)
				assert.Equal(t, domain.StatusInProgress, n.Snapshot.Status)
				assert.Nil(t, n.Snapshot.Tally, "pushes carry the participant view")
			},
		},
		"should collapse join bursts of one session within the publish interval": {
			act: func(t *testing.T, f *fixture) {
				_, code := f.create(t)
				f.join(t, code, "u1")
				f.join(t, code, "u2")
				f.join(t, code, "u3")
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.notifications, 1)
				assert.Equal(t, domain.EventNameParticipantJoined, out.notifications[0].Event)
			},
		},
		"should push joins of two sessions separately": {
			act: func(t *testing.T, f *fixture) {
				_, code1 := f.create(t)
				_, code2 := f.create(t)
				f.join(t, code1, "u1")
				f.join(t, code2, "u2")
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.notifications, 2)
				assert.NotEqual(t, out.notifications[0].SessionID, out.notifications[1].SessionID)
			},
		},
		"should never throttle transitions": {
			act: func(t *testing.T, f *fixture) {
				id, code := f.create(t)
				f.join(t, code, "u1")
				f.start(t, id)
				f.advance(t, id)
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.notifications, 3)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			tt.act(t, f)
			f.eb.Stop()

			tt.assert(t, outputs{notifications: f.sink.all()})
		})
	}
}

func TestPublisher_FlushPushesThrottledSessions(t *testing.T) {
	f := newFixture(t)

	_, code := f.create(t)
	f.join(t, code, "u1")
	f.join(t, code, "u2")
	f.eb.Stop()
	require.Len(t, f.sink.all(), 1)

	require.NoError(t, f.publisher.Flush(context.Background()))
	got := f.sink.all()
	require.LessOrEqual(t, len(got), 2)
	assert.Equal(t, 2, got[len(got)-1].Snapshot.TotalParticipants, "the latest push includes the throttled join")

	require.NoError(t, f.publisher.Flush(context.Background()))
	assert.Len(t, f.sink.all(), len(got), "nothing left to flush")
}

func TestRedisSinkAndRelay(t *testing.T) {
	rc := newRedis(t)
	relayed := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := liveview.NewRelay(rc, "geeko", relayed)
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	sink := liveview.NewRedisSink(rc, "geeko")
	n := liveview.Notification{
		Event:     domain.EventNameAnswerScored,
		SessionID: "s1",
		Snapshot:  domain.Snapshot{SessionID: "s1", Status: domain.StatusInProgress, AnsweredCount: 4},
	}

	// The relay subscribes asynchronously, keep publishing until it is listening.
	require.Eventually(t, func() bool {
		if err := sink.Deliver(context.Background(), n); err != nil {
			return false
		}
		return len(relayed.all()) > 0
	}, 2*time.Second, 20*time.Millisecond)

	got := relayed.all()[0]
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, 4, got.Snapshot.AnsweredCount)

	cancel()
	require.NoError(t, <-done)
}

func TestRedisThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	th := liveview.NewRedisThrottle(rc, "geeko", 200*time.Millisecond, nil)
	ctx := context.Background()

	ok, err := th.Allow(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = th.Allow(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "second push within the window is held back")

	ok, err = th.Allow(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, ok, "windows are per session")

	mr.FastForward(time.Second)
	ok, err = th.Allow(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok, "a new window opens after the interval")
}

func TestNotification_JSON(t *testing.T) {
	b, err := json.Marshal(liveview.Notification{Event: "tick", SessionID: "s1", Snapshot: domain.Snapshot{Code: "ABCDEFGH"}})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "tick", raw["event"])
	assert.Equal(t, "ABCDEFGH", raw["data"].(map[string]any)["code"])
}

type fixture struct {
	eb           *event.Bus
	clock        *clockwork.FakeClock
	sessions     *session.Service
	participants *participant.Service
	scores       *score.Service
	view         *liveview.Service
	publisher    *liveview.Publisher
	sink         *recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fc := clockwork.NewFakeClockAt(t0)
	st := memory.New()
	eb := event.NewBus()
	sets := questionset.NewService(questionset.Config{
		Loader: questionset.NewStaticLoader(runningState(0, domain.Settings{}).Session.Set),
		Clock:  fc,
	})
	view := liveview.NewService(liveview.Config{Store: st, Clock: fc})
	sessions := session.NewService(session.Config{Store: st, QuestionSets: sets, EventBus: eb, Clock: fc})
	sink := &recordingSink{}

	return &fixture{
		eb:           eb,
		clock:        fc,
		sessions:     sessions,
		participants: participant.NewService(participant.Config{Store: st, Sessions: sessions, EventBus: eb, Clock: fc}),
		scores:       score.NewService(score.Config{Store: st, EventBus: eb, Clock: fc}),
		view:         view,
		publisher: liveview.NewPublisher(liveview.PublisherConfig{
			EventBus: eb,
			View:     view,
			Sinks:    []liveview.Sink{sink},
			Throttle: liveview.NewRedisThrottle(newRedis(t), "geeko", time.Minute, fc),
			Clock:    fc,
		}),
		sink: sink,
	}
}

func newRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")
	return rc
}

func (f *fixture) create(t *testing.T) (string, string) {
	t.Helper()
	ss, err := f.sessions.CreateSession(context.Background(), session.CreateSessionRequest{QuestionSetID: "set", HostID: host})
	require.NoError(t, err)
	return ss.SessionID, ss.Code
}

func (f *fixture) start(t *testing.T, id string) {
	t.Helper()
	_, err := f.sessions.StartSession(context.Background(), session.StartSessionRequest{SessionID: id, HostID: host})
	require.NoError(t, err)
}

func (f *fixture) advance(t *testing.T, id string) {
	t.Helper()
	_, err := f.sessions.AdvanceQuestion(context.Background(), session.AdvanceQuestionRequest{SessionID: id, HostID: host})
	require.NoError(t, err)
}

func (f *fixture) join(t *testing.T, code, identity string) string {
	t.Helper()
	res, err := f.participants.JoinSession(context.Background(), participant.JoinSessionRequest{
		Code: code, IdentityID: identity, Nickname: identity,
	})
	require.NoError(t, err)
	return res.Participant.ParticipantID
}

type recordingSink struct {
	mu  sync.Mutex
	got []liveview.Notification
}

func (*recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, n liveview.Notification) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) all() []liveview.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]liveview.Notification(nil), s.got...)
}
