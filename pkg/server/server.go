package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	//nolint:gosec // only exposed if pprofAddr config is set
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/call-tracer/pkg/api"
	"github.com/ethpandaops/call-tracer/pkg/config"
	"github.com/ethpandaops/call-tracer/pkg/ethereum"
	"github.com/ethpandaops/call-tracer/pkg/processor"
	"github.com/ethpandaops/call-tracer/pkg/redis"
	"github.com/ethpandaops/call-tracer/pkg/state"
)

type Server struct {
	log    logrus.FieldLogger
	config *config.Config

	redis     *r.Client
	pool      *ethereum.Pool
	processor *processor.Manager
	state     *state.Manager

	metricsServer *http.Server
	pprofServer   *http.Server
	healthServer  *http.Server
	apiServer     *http.Server
}

func NewServer(ctx context.Context, log logrus.FieldLogger, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	if err := redis.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	pool := ethereum.NewPool(log.WithField("component", "ethereum"), &cfg.Ethereum)

	stateManager, err := state.NewManager(log.WithField("component", "state"), &cfg.StateManager)
	if err != nil {
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}

	p, err := processor.NewManager(log, &cfg.Processors, &cfg.Cache, pool, stateManager, redisClient, cfg.Redis.Prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor manager: %w", err)
	}

	return &Server{
		config:    cfg,
		log:       log,
		redis:     redisClient,
		pool:      pool,
		state:     stateManager,
		processor: p,
	}, nil
}

func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreClosed(s.startMetrics())
	})

	if s.config.PProfAddr != nil {
		g.Go(func() error {
			return ignoreClosed(s.startPProf())
		})
	}

	if s.config.HealthCheckAddr != nil {
		g.Go(func() error {
			return ignoreClosed(s.startHealthCheck())
		})
	}

	if s.config.APIAddr != nil {
		g.Go(func() error {
			return ignoreClosed(s.startAPI())
		})
	}

	g.Go(func() error {
		s.pool.Start(ctx)

		return nil
	})

	g.Go(func() error {
		return s.state.Start(ctx)
	})

	g.Go(func() error {
		return s.processor.Start(ctx)
	})

	// Wait for shutdown signal
	g.Go(func() error {
		<-ctx.Done()

		return s.stop(ctx)
	})

	return g.Wait()
}

func (s *Server) stop(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	s.log.Info("Starting graceful shutdown...")

	if s.apiServer != nil {
		if err := s.apiServer.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to shutdown api server")
		}
	}

	if s.processor != nil {
		s.log.Info("Stopping processor...")

		if err := s.processor.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop processor")
		}
	}

	if s.state != nil {
		if err := s.state.Stop(cleanupCtx); err != nil {
			s.log.WithError(err).Error("failed to stop state manager")
		}
	}

	if err := s.pool.Stop(cleanupCtx); err != nil {
		s.log.WithError(err).Error("failed to stop ethereum pool")
	}

	if s.redis != nil {
		s.log.Info("Closing Redis connection...")

		if err := s.redis.Close(); err != nil {
			s.log.WithError(err).Error("failed to close redis")
		}
	}

	for name, srv := range map[string]*http.Server{
		"pprof":   s.pprofServer,
		"health":  s.healthServer,
		"metrics": s.metricsServer,
	} {
		if srv == nil {
			continue
		}

		if err := srv.Shutdown(cleanupCtx); err != nil {
			s.log.WithError(err).Errorf("failed to shutdown %s server", name)
		}
	}

	s.log.Info("Call tracer stopped gracefully")

	return nil
}

func (s *Server) startMetrics() error {
	s.log.WithField("addr", s.config.MetricsAddr).Info("Starting metrics server")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:              s.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return s.metricsServer.ListenAndServe()
}

func (s *Server) startPProf() error {
	s.log.WithField("addr", *s.config.PProfAddr).Info("Starting pprof server")

	s.pprofServer = &http.Server{
		Addr:              *s.config.PProfAddr,
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.pprofServer.ListenAndServe()
}

func (s *Server) startHealthCheck() error {
	s.log.WithField("addr", *s.config.HealthCheckAddr).Info("Starting healthcheck server")

	s.healthServer = &http.Server{
		Addr:              *s.config.HealthCheckAddr,
		Handler:           healthHandler(s.pool),
		ReadHeaderTimeout: 120 * time.Second,
	}

	return s.healthServer.ListenAndServe()
}

func (s *Server) startAPI() error {
	s.log.WithField("addr", *s.config.APIAddr).Info("Starting API server")

	handler := api.NewHandler(s.log, func() (api.Tracer, error) {
		tracer, err := s.processor.CallTrace()
		if err != nil {
			return nil, err
		}

		return tracer, nil
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	s.apiServer = &http.Server{
		Addr:              *s.config.APIAddr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	return s.apiServer.ListenAndServe()
}

type healthChecker interface {
	HasHealthyExecutionNodes() bool
}

// healthHandler reports 200 while at least one execution node is healthy.
func healthHandler(pool healthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !pool.HasHealthyExecutionNodes() {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	})
}

func ignoreClosed(err error) error {
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
