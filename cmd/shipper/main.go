package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Chichichkin/LogProducer/internal/config"
	"github.com/Chichichkin/LogProducer/internal/daemon"
	"github.com/Chichichkin/LogProducer/internal/logging"
	"github.com/Chichichkin/LogProducer/internal/logging/adapter"
	"github.com/Chichichkin/LogProducer/internal/logging/cls"
	"github.com/Chichichkin/LogProducer/internal/logging/loki"
	"github.com/Chichichkin/LogProducer/internal/logging/producer"
	"github.com/Chichichkin/LogProducer/internal/web"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	section := flag.String("section", config.DefaultPluginKey, "plugin section to read from the config file")
	shipSelf := flag.Bool("ship-self", false, "also ship the daemon's own warnings through the producer")
	flag.Parse()

	logger, err := newLogger(os.Getenv("LOG_DEV") == "1")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	cfg, err := loadConfig(*configPath, *section)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	sink, err := newSink(cfg)
	if err != nil {
		logger.Fatal("failed to create sink", zap.Error(err))
	}

	p, err := producer.New(sink, cfg.ProducerConfig(), producer.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to create producer", zap.Error(err))
	}

	daemonLogger := logger.Named("daemon")
	if *shipSelf {
		mapper := adapter.NewMapper(adapter.DefaultTimeFormat)
		mapper.SetContextFields(map[string]string{"node": cfg.NodeName, "container": "log-shipper"})
		daemonLogger = zap.New(zapcore.NewTee(
			daemonLogger.Core(),
			adapter.NewCore(p, mapper, zap.WarnLevel),
		), zap.AddCaller()).Named("daemon")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := daemon.NewService(ctx, daemon.Config{
		LogRootPath:     cfg.LogPath,
		ScanInterval:    cfg.ScanInterval,
		NodeName:        cfg.NodeName,
		FileIdleTimeout: cfg.IdleTimeout,
		MaxFiles:        cfg.MaxFiles,
	}, p, daemonLogger)
	service.Start()

	app := web.NewApp(web.NewHandlers(p, service))
	go func() {
		if err := app.Listen(cfg.StatsAddr); err != nil {
			logger.Error("stats server stopped", zap.Error(err))
		}
	}()

	logger.Info("log shipper started",
		zap.String("sink", cfg.Sink),
		zap.String("destination", cfg.Destination()),
		zap.String("source", cfg.Source),
		zap.String("stats_addr", cfg.StatsAddr))

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// stop producing before closing the producer so nothing is dropped late
	service.Stop()
	p.Close(cfg.CloseTimeout)
	if err := app.ShutdownWithTimeout(cfg.CloseTimeout); err != nil {
		logger.Warn("stats server shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete", zap.Any("stats", p.Stats()))
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(path, section string) (config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, err
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path, section)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	cfg = config.ApplyEnv(cfg).ResolveSource()

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newSink(cfg config.Config) (logging.Sink, error) {
	switch cfg.Sink {
	case config.SinkLoki:
		return loki.NewLokiSender(loki.Config{
			URL:      cfg.LokiURL,
			Compress: cfg.LokiCompress,
			StaticLabels: map[string]string{
				"node": cfg.NodeName,
			},
		}), nil
	default:
		sender, err := cls.NewSender(cls.Config{
			Host:      cfg.Host,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
}
