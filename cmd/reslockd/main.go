package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	sarama "github.com/IBM/sarama"
	nats "github.com/nats-io/nats.go"

	"github.com/mirkobrombin/go-reslock/v1/api"
	"github.com/mirkobrombin/go-reslock/v1/config"
	"github.com/mirkobrombin/go-reslock/v1/eventbus"
	"github.com/mirkobrombin/go-reslock/v1/kernel"
	"github.com/mirkobrombin/go-reslock/v1/metrics"
	"github.com/mirkobrombin/go-reslock/v1/reclaim"
	"github.com/mirkobrombin/go-reslock/v1/store"
)

var (
	portFlag  = flag.Int("port", 0, "listening port (overrides RESLOCK_PORT)")
	storeFlag = flag.String("store", "", "store URL (overrides RESLOCK_STORE)")
	busFlag   = flag.String("bus", "", "event bus URL (overrides RESLOCK_BUS)")
	traceFlag = flag.Bool("trace", false, "emit OpenTelemetry traces to stdout")
)

func main() {
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}
	if *portFlag != 0 {
		cfg.Port = *portFlag
	}
	if *storeFlag != "" {
		cfg.StoreURL = *storeFlag
	}
	if *busFlag != "" {
		cfg.BusURL = *busFlag
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	if *traceFlag {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			log.Fatal(err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		otel.SetTracerProvider(tp)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg.StoreURL)
	if err != nil {
		log.Fatal(err)
	}
	bus, err := openBus(cfg.BusURL)
	if err != nil {
		log.Fatal(err)
	}

	if cfg.AdminKey == "" {
		log.Warn("RESLOCK_ADMIN_KEY is empty, force-unlock is disabled")
	}
	k := kernel.New(st,
		kernel.WithBus(bus),
		kernel.WithAdminKey(cfg.AdminKey),
	)
	reclaimer := reclaim.New(st,
		reclaim.WithInterval(cfg.SweepInterval),
		reclaim.WithBus(bus),
	)

	reg := metrics.NewRegistry()
	metrics.RegisterCoreMetrics(reg)

	handler := api.New(k, st,
		api.WithBus(bus),
		api.WithProduction(cfg.Production),
	)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler.Routes(reg),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(log.Fields{
			"port":  cfg.Port,
			"store": cfg.StoreURL,
			"bus":   cfg.BusURL,
		}).Info("reslockd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		reclaimer.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func openStore(url string) (store.Store, error) {
	switch {
	case url == "mem://":
		return store.NewInMemory(), nil
	case strings.HasPrefix(url, "redis://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse store url: %w", err)
		}
		return store.NewRedis(redis.NewClient(opts)), nil
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
			TranslateError: true,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store.NewGorm(db)
	}
	return nil, fmt.Errorf("unsupported store url %q", url)
}

func openBus(url string) (eventbus.Bus, error) {
	switch {
	case url == "mem://":
		return eventbus.NewInMemory(), nil
	case strings.HasPrefix(url, "redis://"):
		opts, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse bus url: %w", err)
		}
		return eventbus.NewRedisBus(redis.NewClient(opts)), nil
	case strings.HasPrefix(url, "nats://"):
		conn, err := nats.Connect(url)
		if err != nil {
			return nil, fmt.Errorf("connect nats bus: %w", err)
		}
		return eventbus.NewNATSBus(conn), nil
	case strings.HasPrefix(url, "kafka://"):
		brokers := strings.Split(strings.TrimPrefix(url, "kafka://"), ",")
		return eventbus.NewKafkaBus(brokers, sarama.NewConfig())
	}
	return nil, fmt.Errorf("unsupported bus url %q", url)
}
