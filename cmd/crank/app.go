package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"epoch-crank/internal/crank"
	dbpkg "epoch-crank/internal/db"
	"epoch-crank/internal/ledger"
	"epoch-crank/internal/logger"
	"epoch-crank/internal/metrics"
	"epoch-crank/internal/ratelimit"
	"epoch-crank/internal/retry"
)

// authorityTTL bounds how stale the cached admin authority may get.
const authorityTTL = 10 * time.Minute

// app is the wired crank shared by every command.
type app struct {
	log      zerolog.Logger
	db       *gorm.DB
	recorder *dbpkg.Recorder
	client   *ledger.Client
	metrics  *metrics.Collector
	governor *ratelimit.Governor
	remote   *crank.Remote
	pipeline *crank.Pipeline
}

type appOptions struct {
	// needSigner refuses to start without the authority credential.
	needSigner bool
	logWriter  io.Writer
	observer   crank.Observer
}

func newApp(o appOptions) (*app, error) {
	var log zerolog.Logger
	switch {
	case o.logWriter != nil:
		log = logger.NewWithWriter(cfg.Debug, o.logWriter)
	case flagLogJSON:
		log = logger.NewJSON(cfg.Debug, os.Stderr)
	default:
		log = logger.New(cfg.Debug)
	}
	log.Debug().Str("config", cfg.DebugString()).Msg("config loaded")

	a := &app{log: log}

	gormDB, err := dbpkg.Open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if gormDB != nil {
		if err := dbpkg.AutoMigrate(gormDB); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info().Msg("database connected, migrations applied")
	} else {
		log.Info().Msg("DATABASE_URL not provided, run history disabled")
	}
	a.db = gormDB
	a.recorder = dbpkg.NewRecorder(gormDB)

	var signer *ledger.Signer
	if cfg.AdminSeedBase64 != "" {
		signer, err = ledger.NewSignerFromBase64(cfg.AdminSeedBase64)
		if err != nil {
			return nil, fmt.Errorf("load admin credential: %w", err)
		}
		log.Info().Str("identity", signer.Identity()).Msg("admin credential loaded")
	} else if o.needSigner {
		return nil, cfg.RequireSigner()
	}

	a.client, err = ledger.Dial(cfg.RPCURL, cfg.WSURL(), signer, log)
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.NewCollector(prometheus.DefaultRegisterer)
	a.governor, err = ratelimit.New(ratelimit.Config{
		Max:        cfg.RateLimitMax,
		Window:     cfg.RateLimitWindow,
		MinSpacing: cfg.RateLimitSpacing,
	}, clock.New(), a.metrics)
	if err != nil {
		return nil, err
	}
	policy, err := retry.New(retry.Config{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: cfg.RetryBaseDelay,
	}, a.governor, a.metrics, log)
	if err != nil {
		return nil, err
	}
	a.remote = crank.NewRemote(a.client, policy)

	opts := crank.Options{
		FundedSlots:     cfg.FundedSlots,
		MaxRoundsPerRun: cfg.MaxRoundsPerRun,
		Observer:        o.observer,
		Metrics:         a.metrics,
	}
	if a.recorder.Enabled() {
		opts.Recorder = a.recorder
	}
	if cfg.VerifyAuthority && signer != nil {
		opts.Authority = ledger.NewAuthorityCache(a.remote.Authority, authorityTTL)
		opts.Identity = signer.Identity()
	}
	a.pipeline = crank.NewPipeline(a.remote, opts, cfg.RoundAutoOpen, log)
	return a, nil
}

func (a *app) Close() {
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// printJSON writes v to stdout the way the HTTP trigger would answer.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outcome turns a failed report into a non-zero exit.
func outcome(success bool, message string) error {
	if !success {
		return fmt.Errorf("run failed: %s", message)
	}
	return nil
}

func withRequestID(ctx context.Context, name string) context.Context {
	return crank.WithRequestID(ctx, fmt.Sprintf("cli-%s-%d", name, time.Now().Unix()))
}
