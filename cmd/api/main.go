package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"topiary.org/internal/approval"
	"topiary.org/internal/auth"
	"topiary.org/internal/capacity"
	"topiary.org/internal/config"
	"topiary.org/internal/curator"
	"topiary.org/internal/httpapi"
	"topiary.org/internal/ledger"
	"topiary.org/internal/naming"
	"topiary.org/internal/obs"
	"topiary.org/internal/platform"
	"topiary.org/internal/policy"
	"topiary.org/internal/scm"
	"topiary.org/internal/scoring"
	pgstore "topiary.org/internal/store/pg"
	"topiary.org/internal/topic"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	log.SetFlags(0)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Persistence: Postgres when a DSN is configured, in-memory otherwise.
	var (
		db       *sql.DB
		topics   topic.Store
		led      ledger.Ledger
		metrics  capacity.Store
		closeFns []func() error
	)
	if cfg.Database.DSN != "" {
		store, err := pgstore.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		db = store.DB()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		topics = store.Topics()
		led = store.Ledger()
		metrics = store.Capacity()
		closeFns = append(closeFns, store.Close)
	} else {
		topics = topic.NewInMemory()
		metrics = capacity.NewInMemory()
		fileLedger, err := ledger.OpenFile(cfg.Ledger.Path)
		if err != nil {
			log.Fatalf("open ledger file: %v", err)
		}
		led = fileLedger
		closeFns = append(closeFns, fileLedger.Close)
	}

	// Chat platform: REST gateway when configured, in-memory fake otherwise.
	var client platform.Client
	if cfg.Platform.BaseURL != "" {
		client = platform.NewREST(cfg.Platform.BaseURL, cfg.Platform.Token)
	} else {
		log.Println("no platform base_url configured; using the in-memory fake")
		client = platform.NewFake()
	}
	client = platform.NewRetrier(client, cfg.Platform.CallTimeout, cfg.Platform.MaxRetries, cfg.Platform.RetryBaseWait)

	gate := policy.NewGate(policy.FromConfig(cfg.Policy, cfg.Categories, time.Now), led)
	norm := naming.New(cfg.Naming.MaxNameLength)
	scorer := scoring.New(
		scoring.WithSaturations(cfg.Scoring.StakeholderSaturation, cfg.Scoring.DependencySaturation),
		scoring.WithDeadlineWindow(time.Duration(cfg.Scoring.DeadlineWindowDays)*24*time.Hour),
		scoring.WithExternalConfidenceFloor(cfg.Scoring.ExternalMinConfidence),
	)

	orch := approval.NewOrchestrator(approval.NewInMemory(), gate, led, cfg.Approval.TTL)
	registerExecutors(orch, cfg, client, led, topics, metrics, norm)

	var authSvc *auth.Service
	if cfg.Auth.Secret != "" {
		authSvc, err = auth.NewService(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
	} else {
		log.Println("no auth secret configured; the API is unauthenticated")
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Deps{
		Auditor:      curator.NewAuditor(topics, metrics, client, norm, cfg.Categories),
		Polisher:     curator.NewPolisher(topics, led, client, gate, cfg.Categories, cfg.Platform.DeepLinkBase),
		Topics:       topics,
		Scorer:       scorer,
		Forecaster:   capacity.NewForecaster(metrics, cfg.Forecast.Window),
		Gate:         gate,
		Orchestrator: orch,
		Auth:         authSvc,
	})

	handler := httpapi.Logging(
		httpapi.SecurityHeaders(
			httpapi.RateLimit(
				httpapi.MaxBodyBytes(api.Handler(), cfg.Server.MaxBodyBytes),
				cfg.Server.RateLimitBurst, cfg.Server.RateLimitPerSec)))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting topiary-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	for _, closeFn := range closeFns {
		_ = closeFn()
	}
	log.Println("Stopped")
}

// registerExecutors binds the three approval subject kinds to their effects.
func registerExecutors(orch *approval.Orchestrator, cfg *config.Config, client platform.Client, led ledger.Ledger, topics topic.Store, metrics capacity.Store, norm *naming.Normalizer) {
	// Rename batches re-run the audit/polish pair under the approval's reason.
	auditor := curator.NewAuditor(topics, metrics, client, norm, cfg.Categories)
	polisher := curator.NewPolisher(topics, led, client, nil, cfg.Categories, cfg.Platform.DeepLinkBase)
	orch.RegisterExecutor(approval.KindRenameBatch, approval.ExecutorFuncs{
		ExecuteFn: func(ctx context.Context, req approval.Request) error {
			report, err := auditor.Audit(ctx, req.Category)
			if err != nil {
				return err
			}
			res, err := polisher.Polish(ctx, report, curator.ModeApply, curator.Trigger{
				Actor:  req.Proposer,
				Reason: req.Reason,
			})
			if err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("polish finished with %d failed topics", res.Failed)
			}
			return nil
		},
	})

	// Releases merge the change request named by the subject.
	if cfg.SCM.BaseURL != "" {
		scmClient := scm.NewREST(cfg.SCM.BaseURL, cfg.SCM.Token)
		orch.RegisterExecutor(approval.KindRelease, approval.ExecutorFuncs{
			ExecuteFn: func(ctx context.Context, req approval.Request) error {
				ctx, cancel := context.WithTimeout(ctx, cfg.SCM.CallTimeout)
				defer cancel()
				st, err := scmClient.GetStatus(ctx, req.Subject)
				if err != nil {
					return err
				}
				if !st.Mergeable {
					return fmt.Errorf("change %s is not mergeable (state %s)", req.Subject, st.State)
				}
				return scmClient.Merge(ctx, req.Subject)
			},
			RollbackFn: func(ctx context.Context, req approval.Request) error {
				ctx, cancel := context.WithTimeout(ctx, cfg.SCM.CallTimeout)
				defer cancel()
				return scmClient.RequestChanges(ctx, req.Subject, req.Proposer, "release rolled back")
			},
		})
	}

	// Destructive operations: unpin everything in the subject topic. The
	// rollback restores nothing; the ledger records what happened.
	orch.RegisterExecutor(approval.KindDestructive, approval.ExecutorFuncs{
		ExecuteFn: func(ctx context.Context, req approval.Request) error {
			return client.UnpinAll(ctx, req.Subject)
		},
	})
}
