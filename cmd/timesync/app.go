package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"timesheet_sync/internal/config"
	"timesheet_sync/internal/metrics"
	"timesheet_sync/internal/progress"
	"timesheet_sync/internal/publisher"
	"timesheet_sync/internal/remote"
	"timesheet_sync/internal/secret"
	"timesheet_sync/internal/service"
	"timesheet_sync/internal/storage/postgres"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sqlx.DB

	appointments *postgres.AppointmentStore
	credentials  *postgres.CredentialStore
	box          *secret.Box

	hub     *progress.Hub
	channel progress.Channel
	metrics *metrics.Metrics
	sync    *service.SyncService

	closers []func()
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func connectDB(cfg *config.Config, logger *slog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
	return db, nil
}

func newApp(reg prometheus.Registerer) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	a.db, err = connectDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { a.db.Close() })

	a.box, err = secret.NewBox(cfg.Secret.Key)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create secret box: %w", err)
	}

	a.appointments = postgres.NewAppointmentStore(a.db)
	a.credentials = postgres.NewCredentialStore(a.db)
	runs := postgres.NewSyncRunStore(a.db)
	txManager := postgres.NewTransactionManager(a.db)

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name("timesync"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		a.channel = progress.NewNATSChannel(conn, logger)
		logger.Info("progress published over nats", "url", cfg.NATS.URL)
	} else {
		a.hub = progress.NewHub()
		a.channel = a.hub
	}

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to rabbitmq: %w", err)
		}
		a.closers = append(a.closers, func() { rabbitMQ.Close() })
		pub = rabbitMQ
	}

	var m service.Metrics
	if reg != nil {
		a.metrics = metrics.New(reg)
		if a.hub != nil {
			a.metrics.TrackSubscribers(a.hub.Subscribers)
		}
		m = a.metrics
	}

	launcher := remote.NewLauncher(remoteConfig(cfg.Remote), logger)

	a.sync = service.NewSyncService(
		a.appointments,
		a.credentials,
		a.box,
		service.LauncherFunc(func(ctx context.Context) (service.RemoteSession, error) {
			session, err := launcher.Launch(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		}),
		a.channel,
		runs,
		txManager,
		pub,
		m,
		logger,
		cfg.Sync,
	)

	return a, nil
}

// Close releases the connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func remoteConfig(cfg config.RemoteConfig) remote.Config {
	headless := true
	if cfg.Headless != nil {
		headless = *cfg.Headless
	}
	return remote.Config{
		BaseURL:            cfg.BaseURL,
		LoginPath:          cfg.LoginPath,
		HomePath:           cfg.HomePath,
		NewAppointmentPath: cfg.NewAppointmentPath,
		ListPath:           cfg.ListPath,
		DetailPath:         cfg.DetailPath,
		Headless:           headless,
		NoSandbox:          cfg.NoSandbox,
		ChromePath:         cfg.ChromePath,
		UserAgent:          cfg.UserAgent,
		LoginTimeout:       cfg.LoginTimeout,
		SaveTimeout:        cfg.SaveTimeout,
		WaitTimeout:        cfg.WaitTimeout,
		HTTPTimeout:        cfg.HTTPTimeout,
		Selectors:          remote.Selectors(cfg.Selectors),
		Endpoints:          remote.Endpoints(cfg.Endpoints),
	}
}
