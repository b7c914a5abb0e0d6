package cli

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"lms-activity-service/internal/app"
	"lms-activity-service/internal/config"
	"lms-activity-service/internal/infra/lmsapi"
	"lms-activity-service/internal/infra/memory"
	pginfra "lms-activity-service/internal/infra/postgres"
	redisinfra "lms-activity-service/internal/infra/redis"
	"lms-activity-service/internal/logging"
	"lms-activity-service/internal/report"
)

// deps holds everything built from the config. close releases connections.
type deps struct {
	cfg        config.Config
	log        *logrus.Logger
	activities *app.ActivityService
	lessons    *app.LessonService
	dispatcher *report.Dispatcher
	closers    []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func loadConfig(path string) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr), nil
}

func buildDeps(ctx context.Context, cfg config.Config, log *logrus.Logger) (*deps, error) {
	d := &deps{cfg: cfg, log: log}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			d.close()
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db = bun.NewDB(sqldb, pgdialect.New())
		d.closers = append(d.closers, func() { _ = db.Close() })
	}

	var lms *lmsapi.Client
	if cfg.LMSAPI.BaseURL != "" {
		lms = lmsapi.New(lmsapi.Config{
			BaseURL: cfg.LMSAPI.BaseURL,
			Token:   cfg.LMSAPI.Token,
			Timeout: config.TTLDuration(cfg.LMSAPI.Timeout, 5*time.Second),
		})
	}

	// catalog: Postgres, then the LMS API, then the built-in samples
	var loader memory.ActivityLoader = memory.NewStaticActivityLoader(memory.SampleActivities())
	switch {
	case pool != nil:
		loader = pginfra.NewActivityLoader(pool)
	case lms != nil:
		loader = lms
	}

	activityTTL := config.TTLDuration(cfg.Activity.TTL, 10*time.Minute)
	var activityRepo app.ActivityRepository
	var sessions app.SessionRepository
	if redisClient != nil {
		activityRepo = redisinfra.NewActivityRepository(redisClient, loader, activityTTL)
		sessions = redisinfra.NewSessionStore(redisClient, redisTTL)
	} else {
		activityRepo = memory.NewActivityRepository(loader, activityTTL)
		sessions = memory.NewSessionStore()
	}

	var outbox report.Outbox
	switch {
	case db != nil:
		outbox = pginfra.NewOutbox(db)
	case redisClient != nil:
		outbox = redisinfra.NewOutbox(redisClient)
	default:
		outbox = memory.NewOutbox()
	}

	var submitter report.Submitter = report.LogSubmitter{Log: log}
	var checker report.CompletionChecker
	var completions app.CompletionChecker
	var marker app.LessonMarker = memory.NewLessonLedger()
	if lms != nil {
		submitter = lms
		checker = lms
		completions = lms
		marker = lms
	}

	redelivery := report.Backoff{
		Initial: config.TTLDuration(cfg.Reporter.RedeliveryBackoff, time.Minute),
		Max:     config.TTLDuration(cfg.Reporter.RedeliveryMaxBackoff, time.Hour),
	}
	reporter := report.NewReporter(submitter, outbox, report.Config{
		Retries: cfg.Reporter.Retries,
		Retry: report.Backoff{
			Initial: config.TTLDuration(cfg.Reporter.InitialBackoff, 200*time.Millisecond),
			Max:     config.TTLDuration(cfg.Reporter.MaxBackoff, 5*time.Second),
		},
		Redelivery: redelivery,
	}, log)
	d.dispatcher = report.NewDispatcher(outbox, submitter, checker, report.DispatcherConfig{
		Interval:    config.TTLDuration(cfg.Reporter.DrainInterval, 30*time.Second),
		BatchSize:   cfg.Reporter.BatchSize,
		MaxAttempts: cfg.Reporter.MaxAttempts,
		Redelivery:  redelivery,
	}, log)

	policies, err := app.ParsePolicies(cfg.Activity.Scoring)
	if err != nil {
		d.close()
		return nil, err
	}

	d.activities = app.NewActivityService(app.Options{
		Sessions:        sessions,
		Activities:      activityRepo,
		Reporter:        reporter,
		Completions:     completions,
		Policies:        policies,
		RevealDelay:     config.TTLDuration(cfg.Activity.RevealDelay, app.DefaultRevealDelay),
		RetainCompleted: config.TTLDuration(cfg.Activity.RetainCompleted, app.DefaultRetainCompleted),
		IdleTimeout:     config.TTLDuration(cfg.Activity.IdleTimeout, app.DefaultIdleTimeout),
		Logger:          log,
	})
	d.lessons = app.NewLessonService(marker, log)
	return d, nil
}

var errNoDurableOutbox = errors.New("reports drain needs postgres.url or redis.addr")
