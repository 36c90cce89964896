package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/thupa-pro/lipo-sub001/internal/consent/events"
	"github.com/thupa-pro/lipo-sub001/internal/consent/handler"
	"github.com/thupa-pro/lipo-sub001/internal/consent/metrics"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/consent/remote"
	"github.com/thupa-pro/lipo-sub001/internal/consent/scripts"
	"github.com/thupa-pro/lipo-sub001/internal/consent/service"
	"github.com/thupa-pro/lipo-sub001/internal/consent/workers/cleanup"
	jwttoken "github.com/thupa-pro/lipo-sub001/internal/jwt_token"
	"github.com/thupa-pro/lipo-sub001/internal/platform/config"
	"github.com/thupa-pro/lipo-sub001/internal/platform/health"
	"github.com/thupa-pro/lipo-sub001/internal/platform/kafka"
	"github.com/thupa-pro/lipo-sub001/internal/platform/kafka/producer"
	"github.com/thupa-pro/lipo-sub001/internal/platform/logger"
	"github.com/thupa-pro/lipo-sub001/internal/platform/tracer"
	httptransport "github.com/thupa-pro/lipo-sub001/internal/transport/http"
	"github.com/thupa-pro/lipo-sub001/pkg/platform/middleware/request"
)

// main wires dependencies and owns every background goroutine through one
// errgroup. Business logic lives in internal/consent.
func main() {
	configPath := flag.String("config", os.Getenv("CONSENT_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	warnDevSigningKey(cfg, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	consentMetrics := metrics.New(reg)

	p := policy.New(models.Version(cfg.Consent.Version), cfg.Consent.Retention)
	healthHandler := health.New(cfg.Storage.Backend)

	g, ctx := errgroup.WithContext(ctx)

	slot, err := openSlot(ctx, g, cfg, reg, healthHandler, log)
	if err != nil {
		return err
	}
	defer slot.close()

	userStore, closeUsers, err := openUserStore(ctx, cfg, healthHandler, log)
	if err != nil {
		return err
	}
	defer closeUsers()

	users := service.NewUserService(userStore, p,
		service.WithUserLogger(log),
		service.WithUserMetrics(consentMetrics),
	)

	var syncer service.Syncer = users
	if cfg.Remote.URL != "" {
		client, err := remote.New(remote.Config{
			BaseURL: cfg.Remote.URL,
			Token:   cfg.Remote.Token,
			Timeout: cfg.Remote.Timeout,
		}, remote.WithLogger(log))
		if err != nil {
			return fmt.Errorf("remote sync client: %w", err)
		}
		syncer = client
	}

	bus := events.NewBus(events.WithLogger(log), events.WithMetrics(consentMetrics))
	consent := service.NewService(slot.store(p, consentMetrics, cfg.Consent.Namespace, log), p,
		service.WithLogger(log),
		service.WithMetrics(consentMetrics),
		service.WithTracer(tracer.NewOTel()),
		service.WithSyncer(syncer),
		service.WithNotifier(service.NewLogNotifier(log)),
		service.WithBus(bus),
	)

	if cfg.Kafka.Brokers != "" {
		pcfg := kafka.DefaultProducerConfig()
		pcfg.Brokers = cfg.Kafka.Brokers
		pcfg.Acks = cfg.Kafka.Acks
		prod, err := producer.New(pcfg, log)
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		defer func() {
			if err := prod.Close(10 * time.Second); err != nil {
				log.Warn("kafka producer close failed", "error", err)
			}
		}()
		detach := events.NewKafkaForwarder(prod, cfg.Kafka.Topic, log).Attach(bus)
		defer detach()
		healthHandler.RegisterCheck("kafka", prod.Health)
		log.Info("forwarding consent events to kafka", "topic", cfg.Kafka.Topic)
	}

	slot.watch(ctx, g, consent, log)

	if cfg.Cleanup.Enabled {
		worker, err := cleanup.New(users, cfg.Cleanup.Schedule, cleanup.WithCleanupLogger(log))
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	catalog, err := scripts.NewConfiguredCatalog(cfg.Scripts)
	if err != nil {
		return fmt.Errorf("script catalog: %w", err)
	}
	jwt := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)

	router := httptransport.NewRouter(httptransport.Config{
		Namespace:      cfg.Consent.Namespace,
		SecureCookies:  cfg.HTTP.SecureCookies,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, httptransport.Dependencies{
		Logger: log,
		Consent: handler.New(consent, catalog, log,
			handler.WithOriginPatterns(cfg.HTTP.AllowedOrigins),
			handler.WithStreamBuffer(cfg.HTTP.StreamBuffer),
		),
		Users:     handler.NewUserHandler(users, log),
		Health:    healthHandler,
		Validator: jwttoken.NewJWTServiceAdapter(jwt),
		Metrics:   request.NewMetrics(reg),
		Gatherer:  reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	g.Go(func() error {
		log.Info("starting http server",
			"addr", cfg.HTTP.Addr,
			"storage", cfg.Storage.Backend,
			"consent_version", cfg.Consent.Version,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// warnDevSigningKey reports whether the built-in development JWT key is in
// use with durable storage, logging a warning when it is.
func warnDevSigningKey(cfg *config.Config, log *slog.Logger) bool {
	if !cfg.UsesDevSigningKey() || cfg.Storage.Backend == config.StorageMemory {
		return false
	}
	log.Warn("bearer tokens are signed with the development key; set auth.jwt_signing_key",
		"storage", cfg.Storage.Backend,
	)
	return true
}
