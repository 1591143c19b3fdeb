//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/victornm/geeko/internal/api"
	"github.com/victornm/geeko/internal/domain"
)

// The demo runs against `geeko serve` with Redis configured and the sample question sets loaded.
const (
	addr      = "localhost:9090"
	redisAddr = "localhost:6379"
	prefix    = "geeko"
)

func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var (
		gc = makeClient(t)
		wg = new(sync.WaitGroup)
	)

	var (
		host    = "quizmaster-" + uuid.NewString()
		players = []string{"u1", "u2", "u3"}
		joined  = make(map[string]string)
	)

	// Create new session
	resp, err := gc.CreateSession(ctx, &api.CreateSessionRequest{QuestionSetID: "geography", HostID: host})
	require.NoError(t, err)
	session := resp.Session.SessionID

	// Watch the pushes of the session
	watch(t, makeRedis(t), wg, session)

	for _, u := range players {
		jr, err := gc.JoinSession(ctx, &api.JoinSessionRequest{Code: resp.Session.Code, IdentityID: u, Nickname: strings.ToUpper(u)})
		require.NoError(t, err)
		joined[u] = jr.Participant.ParticipantID
	}

	started, err := gc.StartSession(ctx, &api.HostRequest{SessionID: session, HostID: host})
	require.NoError(t, err)

	// For each question, all players submit answers concurrently
	for i := 0; i < started.Session.QuestionCount; i++ {
		snap, err := gc.GetSnapshot(ctx, &api.GetSnapshotRequest{SessionID: session, ViewerID: host})
		require.NoError(t, err)
		require.NotNil(t, snap.Question)
		t.Logf("Starting question %q", snap.Question.QuestionID)

		var eg errgroup.Group
		for _, u := range players {
			eg.Go(func() error {
				ar, err := gc.SubmitAnswer(ctx, &api.SubmitAnswerRequest{
					SessionID:     session,
					ParticipantID: joined[u],
					QuestionID:    snap.Question.QuestionID,
					Selection:     guess(snap.Question),
				})
				if err != nil {
					return fmt.Errorf("player %q submit answer: %w", u, err)
				}

				t.Logf("Player %q answered: correct=%t, points=%d, total=%d", u, ar.Answer.IsCorrect, ar.Answer.Points, ar.Participant.TotalScore)
				return nil
			})
		}
		require.NoError(t, eg.Wait())

		time.Sleep(time.Second)

		idx := i
		_, err = gc.AdvanceQuestion(ctx, &api.HostRequest{SessionID: session, HostID: host, FromIndex: &idx})
		require.NoError(t, err)
	}

	results, err := gc.GetFinalResults(ctx, &api.GetFinalResultsRequest{SessionID: session})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, results.Status)
	t.Logf("Final leaderboard:\n%s", formatLeaderboard(results.Leaderboard))

	wg.Wait()
}

// guess picks the first option, true, or a fixed text depending on the kind.
func guess(q *domain.QuestionView) domain.Selection {
	switch q.Kind {
	case domain.KindTrueFalse:
		truth := true
		return domain.Selection{Truth: &truth}
	case domain.KindFreeText:
		text := "volga"
		return domain.Selection{Text: &text}
	}
	return domain.Selection{Options: []int{0}}
}

func makeClient(t *testing.T) *api.Client {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return api.NewClient(conn)
}

// watch logs the pushes of the session until it is over.
func watch(t *testing.T, rc redis.UniversalClient, wg *sync.WaitGroup, session string) {
	wg.Add(1)
	sub := subscribeRedis(t, rc, fmt.Sprintf("%s:session:%s", prefix, session))
	go func() {
		defer wg.Done()

		for msg := range sub {
			var n struct {
				Event string          `json:"event"`
				Data  domain.Snapshot `json:"data"`
			}
			if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
				t.Logf("unmarshal notification: %v", err)
				continue
			}

			t.Logf("%s: status=%s question=%d answered=%d", n.Event, n.Data.Status, n.Data.QuestionIndex, n.Data.AnsweredCount)
			if n.Data.Status.Terminal() {
				return
			}
		}
	}()
}

func subscribeRedis(t *testing.T, rc redis.UniversalClient, pattern string) <-chan *redis.Message {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	sub := rc.PSubscribe(ctx, pattern)
	t.Cleanup(func() { sub.Close() })

	c := make(chan *redis.Message)
	go func() {
		defer close(c)

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				t.Log(err)
				return
			}

			c <- msg
		}
	}()

	return c
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{redisAddr},
	})
	t.Cleanup(func() { r.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.Ping(ctx).Err(); err != nil {
		t.Fatal(err)
	}

	return r
}

func formatLeaderboard(l []domain.LeaderboardEntry) string {
	var s string
	for _, e := range l {
		s += fmt.Sprintf("%d. %s: %d\n", e.Rank, e.Nickname, e.TotalScore)
	}
	return s
}
