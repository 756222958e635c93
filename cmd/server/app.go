package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/tulip/config"
	candidaterepo "github.com/Ramsey-B/tulip/internal/repositories/candidate"
	"github.com/Ramsey-B/tulip/internal/repositories/memory"
	"github.com/Ramsey-B/tulip/pkg/audit"
	"github.com/Ramsey-B/tulip/pkg/database"
	"github.com/Ramsey-B/tulip/pkg/events"
	"github.com/Ramsey-B/tulip/pkg/graph"
	"github.com/Ramsey-B/tulip/pkg/importing"
	"github.com/Ramsey-B/tulip/pkg/kafka"
	"github.com/Ramsey-B/tulip/pkg/matching"
	"github.com/Ramsey-B/tulip/pkg/merging"
	"github.com/Ramsey-B/tulip/pkg/middleware"
	"github.com/Ramsey-B/tulip/pkg/redis"
	candidateroutes "github.com/Ramsey-B/tulip/pkg/routes/candidate"
	"github.com/Ramsey-B/tulip/pkg/routes/health"
	"github.com/Ramsey-B/tulip/pkg/startup"
	"github.com/Ramsey-B/tulip/pkg/tracing"
	"github.com/Ramsey-B/tulip/pkg/tracing/exporters"
)

const (
	driverMemory    = "memory"
	shutdownTimeout = 30 * time.Second
)

// candidateStore is everything the service needs from candidate persistence.
type candidateStore interface {
	matching.RecordStore
	importing.Creator
	merging.Store
	candidateroutes.Reader
}

type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	health *health.Checker

	store    candidateStore
	locker   merging.Locker
	dlq      *redis.DeadLetterQueue
	sinks    []audit.Sink
	lineage  *graph.LineageSink
	producer *kafka.Producer
	consumer *kafka.Consumer

	processor *importing.Processor
	merger    *merging.Engine
	server    *http.Server
}

func run(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	exporter, err := exporters.New(ctx, exporters.OTLPConfig{
		Endpoint: cfg.OTLPEndpoint,
		Protocol: cfg.OTLPProtocol,
		Insecure: cfg.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}
	shutdownTracing := tracing.Init(cfg.AppName, exporter)

	a := &app{
		cfg:    cfg,
		logger: logger,
		health: health.NewChecker(version),
		sinks:  []audit.Sink{audit.NewLogSink(logger)},
	}

	su := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	services := a.registerInfrastructure(su)
	su.AddDependency(startup.Func{Name: "services", Requires: services, OnStart: a.startServices, OnStop: a.stopServices})
	su.AddDependency(startup.Func{Name: "http", Requires: []string{"services"}, OnStart: a.startHTTP, OnStop: a.stopHTTP})
	if cfg.KafkaConsumerEnabled {
		su.AddDependency(startup.Func{Name: "kafka-consumer", Requires: []string{"services"}, OnStart: a.startConsumer, OnStop: a.stopConsumer})
	}

	if err := su.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = su.Stop(stopCtx)
		_ = shutdownTracing(stopCtx)
		return err
	}

	a.health.SetReady(true)
	logger.WithField("port", cfg.Port).Info("Service started")

	<-ctx.Done()
	logger.Info("Shutting down")
	a.health.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(su.Stop(stopCtx), shutdownTracing(stopCtx))
}

// registerInfrastructure adds the storage and messaging dependencies and returns their names.
func (a *app) registerInfrastructure(su *startup.Startup) []string {
	cfg := a.cfg
	names := []string{"database"}

	if cfg.DatabaseDriver == driverMemory {
		su.AddDependency(startup.Func{Name: "database", OnStart: func(context.Context) error {
			a.store = memory.NewStore(a.logger, merging.TableNames(merging.DefaultDependentKinds())...)
			a.logger.Warn("Using in-memory candidate store; data is lost on restart")
			return nil
		}})
	} else {
		var db database.DB
		su.AddDependency(startup.Func{
			Name: "database",
			OnStart: func(ctx context.Context) error {
				conn, err := database.Connect(ctx, database.ConnectConfig{
					Driver:          cfg.DatabaseDriver,
					Host:            cfg.DatabaseHost,
					Port:            cfg.DatabasePort,
					UserName:        cfg.DatabaseUserName,
					Password:        cfg.DatabasePassword,
					Name:            cfg.DatabaseName,
					SSLMode:         cfg.DatabaseSSLMode,
					MaxOpenConns:    cfg.DatabaseMaxOpenConns,
					MaxIdleConns:    cfg.DatabaseMaxIdleConns,
					ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
				}, a.logger)
				if err != nil {
					return err
				}
				db = conn
				a.store = candidaterepo.NewRepository(db, a.logger)
				a.health.AddCheck("database", health.PingFunc(db.SQL().PingContext))
				return nil
			},
			OnStop: func(context.Context) error {
				if db == nil {
					return nil
				}
				return db.SQL().Close()
			},
		})
		su.AddDependency(startup.Func{
			Name:     "migrations",
			Requires: []string{"database"},
			OnStart: func(context.Context) error {
				return database.NewMigrationService(a.logger, &database.MigrationConfig{
					MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
					Version:             uint(cfg.DatabaseMigrationVersion),
					Force:               cfg.DatabaseMigrationForce,
					AutoRollback:        cfg.DatabaseMigrationAutoRollback,
				}).MigratePostgres(cfg.DatabaseName, db.SQL())
			},
		})
		names = append(names, "migrations")
	}

	if cfg.RedisEnabled {
		var client *redis.Client
		su.AddDependency(startup.Func{
			Name: "redis",
			OnStart: func(context.Context) error {
				c, err := redis.NewClient(redis.Config{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
					PoolSize: cfg.RedisPoolSize,
				}, a.logger)
				if err != nil {
					return err
				}
				client = c
				a.locker = redis.NewLocker(client, cfg.MergeLockKeyspace, cfg.MergeLockTTL, cfg.MergeLockWait)
				a.dlq = redis.NewDeadLetterQueue(client, cfg.KafkaIntakeDLQStream, a.logger)
				a.health.AddCheck("redis", client)
				return nil
			},
			OnStop: func(context.Context) error {
				if client == nil {
					return nil
				}
				return client.Close()
			},
		})
		names = append(names, "redis")
	}

	if cfg.GraphEnabled {
		var client *graph.Client
		su.AddDependency(startup.Func{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				c, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := c.VerifyConnectivity(ctx); err != nil {
					_ = c.Close(ctx)
					return err
				}
				client = c
				a.lineage = graph.NewLineageSink(client, a.logger)
				a.sinks = append(a.sinks, a.lineage)
				a.health.AddCheck("graph", health.PingFunc(client.VerifyConnectivity))
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if client == nil {
					return nil
				}
				return client.Close(ctx)
			},
		})
		names = append(names, "graph")
	}

	if cfg.KafkaProducerEnabled {
		su.AddDependency(startup.Func{
			Name: "kafka-producer",
			OnStart: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      cfg.KafkaBrokers,
					Topic:        cfg.KafkaAuditTopic,
					BatchSize:    cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: cfg.KafkaRequiredAcks,
					Compression:  cfg.KafkaCompression,
				}, a.logger)
				a.sinks = append(a.sinks, events.NewEmitter(a.producer, a.logger))
				return nil
			},
			OnStop: func(context.Context) error {
				if a.producer == nil {
					return nil
				}
				return a.producer.Close()
			},
		})
		names = append(names, "kafka-producer")
	}

	return names
}

func (a *app) startServices(context.Context) error {
	sink := audit.MultiSink(a.sinks)
	ranker := matching.NewRanker(a.logger, matching.NewEngine(a.logger, a.store))
	a.processor = importing.NewProcessor(a.logger, ranker, a.store, sink)

	merger, err := merging.NewEngine(a.logger, a.store, merging.DefaultDependentKinds(), a.locker, sink)
	if err != nil {
		return err
	}
	a.merger = merger

	container, err := a.registerServices(ranker)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Container(container.GetContainerID()))

	a.health.RegisterRoutes(e)
	candidateroutes.Register(e.Group("/api/v1"))

	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
	return nil
}

// registerServices puts the request-scoped collaborators of the HTTP handlers into the default container.
func (a *app) registerServices(ranker *matching.Ranker) (ectocontainer.DIContainer, error) {
	cfg := ectoinject.DefaultContainerConfig
	cfg.LoggerConfig = &ectocontainer.DIContainerLoggerConfig{
		Prefix:   "ectoinject",
		LogLevel: loglevel.WARN,
		Enabled:  true,
		LogFunc: func(ctx context.Context, level, msg string) {
			log := a.logger.WithContext(ctx).WithField("component", "ectoinject")
			if level == loglevel.WARN {
				log.Warn(msg)
				return
			}
			log.Debug(msg)
		},
	}
	container, err := ectoinject.NewDIContainer(cfg)
	if err != nil {
		return nil, err
	}

	registrations := []func() error{
		func() error { return ectoinject.RegisterInstance[ectologger.Logger](container, a.logger) },
		func() error { return ectoinject.RegisterInstance[*config.Config](container, a.cfg) },
		func() error { return ectoinject.RegisterInstance[candidateroutes.Checker](container, ranker) },
		func() error { return ectoinject.RegisterInstance[candidateroutes.Importer](container, a.processor) },
		func() error { return ectoinject.RegisterInstance[candidateroutes.Merger](container, a.merger) },
		func() error { return ectoinject.RegisterInstance[candidateroutes.Reader](container, a.store) },
	}
	if a.lineage != nil {
		registrations = append(registrations, func() error {
			return ectoinject.RegisterInstance[candidateroutes.LineageReader](container, a.lineage)
		})
	}
	for _, register := range registrations {
		if err := register(); err != nil {
			return nil, fmt.Errorf("failed to register services: %w", err)
		}
	}
	return container, nil
}

func (a *app) stopServices(context.Context) error {
	if a.merger != nil {
		a.merger.Wait()
	}
	return nil
}

func (a *app) startHTTP(context.Context) error {
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
		}
	}()
	return nil
}

func (a *app) stopHTTP(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *app) startConsumer(ctx context.Context) error {
	a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       a.cfg.KafkaBrokers,
		Topic:         a.cfg.KafkaIntakeTopic,
		ConsumerGroup: a.cfg.KafkaConsumerGroup,
	}, a.logger, kafka.NewIntakeHandler(a.processor, a.logger))
	if a.dlq != nil {
		a.consumer.SetDeadLetter(deadLetterTo(a.dlq))
	}
	// the consumer outlives the startup context and is stopped explicitly
	return a.consumer.Start(context.WithoutCancel(ctx))
}

func (a *app) stopConsumer(context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func deadLetterTo(dlq *redis.DeadLetterQueue) kafka.DeadLetterFunc {
	return func(ctx context.Context, msg *kafka.IncomingMessage, cause error) error {
		_, err := dlq.Add(ctx, &redis.DLQEntry{
			Topic:        msg.Topic,
			Partition:    msg.Partition,
			Offset:       msg.Offset,
			Key:          msg.Key,
			Payload:      string(msg.Value),
			Headers:      msg.Headers,
			ErrorMessage: cause.Error(),
		})
		return err
	}
}
