package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/geeko/internal/api"
	"github.com/victornm/geeko/internal/clock"
	"github.com/victornm/geeko/internal/domain"
	"github.com/victornm/geeko/internal/event"
	"github.com/victornm/geeko/internal/liveview"
	"github.com/victornm/geeko/internal/participant"
	"github.com/victornm/geeko/internal/questionset"
	"github.com/victornm/geeko/internal/score"
	"github.com/victornm/geeko/internal/session"
	"github.com/victornm/geeko/internal/store/memory"
	"github.com/victornm/geeko/internal/store/postgres"
	"github.com/victornm/geeko/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port        int32
		CORSOrigins []string
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Live struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Engine struct {
		// QuestionSets is a JSON file of sets served from memory, or seeded into Postgres.
		QuestionSets            string
		QuestionSetTTL          time.Duration
		DefaultTimeLimitSeconds int
		LeaderboardSize         int
		CodeAttempts            int
		PublishInterval         time.Duration
		WatchInterval           time.Duration
	}
}

// DefaultConfig runs everything in memory on the usual ports.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.HTTP.CORSOrigins = []string{"*"}
	c.GRPC.Port = 9090
	c.Redis.Live.Prefix = "geeko"
	c.Engine.QuestionSetTTL = 5 * time.Minute
	c.Engine.DefaultTimeLimitSeconds = 20
	c.Engine.LeaderboardSize = 10
	c.Engine.CodeAttempts = 10
	c.Engine.PublishInterval = 200 * time.Millisecond
	c.Engine.WatchInterval = time.Second
	return c
}

// PostgresDSN is empty when no Postgres address is configured.
func (c Config) PostgresDSN() string {
	if c.Postgres.Addr == "" {
		return ""
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Postgres.User, c.Postgres.Pass),
		Host:     c.Postgres.Addr,
		Path:     c.Postgres.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// store is what every engine service needs from the session storage.
type store interface {
	session.Store
	participant.Store
	score.Store
	liveview.Store
}

type Server struct {
	c     Config
	clock clock.Clock

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	store store
	sets  questionset.Loader

	service struct {
		questionSet *questionset.Service
		session     *session.Service
		participant *participant.Service
		score       *score.Service
		view        *liveview.Service
	}

	live struct {
		hub       *api.Hub
		publisher *liveview.Publisher
		watcher   *liveview.Watcher
		relay     *liveview.Relay
	}

	// stop ends the background loops started by Start.
	stop context.CancelFunc
	bg   errgroup.Group

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, clock: clock.Real()}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initStore(); err != nil {
		return nil, fmt.Errorf("server: init store: %w", err)
	}

	s.initService()
	s.initAPI()
	s.initLive()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Live.Addrs) == 0 {
		slog.Info("server: redis not configured, live pushes stay local")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Live.Addrs,
		Password: s.c.Redis.Live.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	dsn := s.c.PostgresDSN()
	if dsn == "" {
		slog.Info("server: postgres not configured, sessions are kept in memory")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initStore() error {
	var seed []domain.QuestionSet
	if p := s.c.Engine.QuestionSets; p != "" {
		sets, err := questionset.ReadFile(p)
		if err != nil {
			return err
		}
		seed = sets
	}

	if s.infra.postgres == nil {
		s.store = memory.New()
		static := questionset.NewStaticLoader()
		for _, set := range seed {
			static.Put(set)
		}
		s.sets = static
		return nil
	}

	s.store = postgres.New(s.infra.postgres)
	loader := postgres.NewQuestionSetLoader(s.infra.postgres)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, set := range seed {
		if err := loader.PutQuestionSet(ctx, set); err != nil {
			return fmt.Errorf("seed question set %s: %w", set.SetID, err)
		}
	}
	s.sets = loader
	return nil
}

func (s *Server) initService() {
	s.service.questionSet = questionset.NewService(questionset.Config{
		Loader:                  s.sets,
		TTL:                     s.c.Engine.QuestionSetTTL,
		DefaultTimeLimitSeconds: s.c.Engine.DefaultTimeLimitSeconds,
		Clock:                   s.clock,
	})

	s.service.session = session.NewService(session.Config{
		Store:        s.store,
		QuestionSets: s.service.questionSet,
		EventBus:     s.eb,
		Clock:        s.clock,
		CodeAttempts: s.c.Engine.CodeAttempts,
	})

	s.service.participant = participant.NewService(participant.Config{
		Store:    s.store,
		Sessions: s.service.session,
		EventBus: s.eb,
		Clock:    s.clock,
	})

	s.service.score = score.NewService(score.Config{
		Store:    s.store,
		EventBus: s.eb,
		Clock:    s.clock,
	})

	s.service.view = liveview.NewService(liveview.Config{
		Store:           s.store,
		Clock:           s.clock,
		LeaderboardSize: s.c.Engine.LeaderboardSize,
	})
}

func (s *Server) initAPI() {
	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())

	a := api.New(api.Config{
		GRPC:        s.grpc,
		Session:     s.service.session,
		Participant: s.service.participant,
		Score:       s.service.score,
		View:        s.service.view,
	})

	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)

	s.live.hub = api.NewHub(a)

	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/healthz", s.healthz)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	a.RegisterRoutes(e, s.live.hub)

	handler := cors.New(cors.Options{
		AllowedOrigins: s.c.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(e)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// initLive pushes snapshots straight to the local hub, or through Redis so every
// instance's hub gets them.
func (s *Server) initLive() {
	var (
		sink     liveview.Sink     = s.live.hub
		throttle liveview.Throttle = liveview.NewLocalThrottle(s.clock, s.c.Engine.PublishInterval)
	)

	if s.infra.redis != nil {
		prefix := s.c.Redis.Live.Prefix
		sink = liveview.NewRedisSink(s.infra.redis, prefix)
		throttle = liveview.NewRedisThrottle(s.infra.redis, prefix, s.c.Engine.PublishInterval, s.clock)
		s.live.relay = liveview.NewRelay(s.infra.redis, prefix, s.live.hub)
	}

	s.live.publisher = liveview.NewPublisher(liveview.PublisherConfig{
		EventBus: s.eb,
		View:     s.service.view,
		Sinks:    []liveview.Sink{sink},
		Throttle: throttle,
		Clock:    s.clock,
	})

	s.live.watcher = liveview.NewWatcher(liveview.WatcherConfig{
		Publisher: s.live.publisher,
		View:      s.service.view,
		Clock:     s.clock,
		Interval:  s.c.Engine.WatchInterval,
	})
}

func (s *Server) healthz(c *gin.Context) {
	ctx := c.Request.Context()

	checks := gin.H{}
	healthy := true

	if s.infra.postgres != nil {
		checks["postgres"] = "ok"
		if err := s.infra.postgres.Ping(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		}
	}

	if s.infra.redis != nil {
		checks["redis"] = "ok"
		if err := s.infra.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	bg, stop := context.WithCancel(context.Background())
	s.stop = stop

	s.bg.Go(func() error {
		s.live.watcher.Run(bg)
		return nil
	})

	if s.live.relay != nil {
		s.bg.Go(func() error {
			return s.live.relay.Run(bg)
		})
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}
	// Hijacked sockets are not tracked by the HTTP server.
	if err := s.live.hub.Close(ctx); err != nil {
		slog.ErrorContext(ctx, "server: close live sockets failed", "error", err)
	}

	if s.stop != nil {
		s.stop()
	}
	if err := s.bg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: background loop failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
