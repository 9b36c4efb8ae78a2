package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	_ "github.com/rosai/detector-node/backends/darknet"
	"github.com/rosai/detector-node/backends/onnx"
	"github.com/rosai/detector-node/config"
	"github.com/rosai/detector-node/detections"
	"github.com/rosai/detector-node/node"
	"github.com/rosai/detector-node/transport"
)

const (
	flagConfig   = "config"
	flagDebug    = "debug"
	flagHTTPAddr = "http-addr"
)

func main() {
	app := &cli.App{
		Name:  "detector-node",
		Usage: "detect objects in camera frames and publish the result",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{config.EnvPrefix + "_CONFIG"},
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagHTTPAddr,
				Usage: "serve monitoring endpoints on `ADDR`; empty disables them",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if c.IsSet(flagHTTPAddr) {
		cfg.HTTP.Addr = c.String(flagHTTPAddr)
	}

	zl, err := newLogger(cfg.Log.Level, c.Bool(flagDebug) || debugFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		_ = zl.Sync()
	}()
	logger := zl.Sugar()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if detections.ModelKind(cfg.Model.Kind) == detections.FullModel {
		if err := onnx.InitializeEnvironment(cfg.OnnxRuntimeLibrary); err != nil {
			return err
		}
		defer func() {
			if err := onnx.DestroyEnvironment(); err != nil {
				logger.Warnw("destroying onnxruntime environment", "error", err)
			}
		}()
	}

	engine, err := detections.New(ctx, cfg.EngineConfig(), logger.Named("detections"))
	if err != nil {
		return err
	}
	tr, err := newTransport(cfg, logger.Named("transport"))
	if err != nil {
		return multierr.Combine(err, engine.Close())
	}
	n := node.New(engine, tr, cfg.NodeConfig(), logger.Named("node"))

	if cfg.HTTP.Addr != "" {
		m := &monitor{node: n, classes: engine.Classes()}
		r := mux.NewRouter()
		m.addMonitoringRoutes(r)

		srv := &http.Server{
			Handler:      r,
			Addr:         cfg.HTTP.Addr,
			WriteTimeout: 60 * time.Second,
			ReadTimeout:  60 * time.Second,
		}
		go func() {
			logger.Infow("starting monitoring server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("monitoring server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warnw("shutting down monitoring server", "error", err)
			}
		}()
	}

	return n.Run(ctx)
}

func newTransport(cfg *config.Config, logger *zap.SugaredLogger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportMemory:
		return transport.NewMemoryBus(), nil
	case config.TransportMQTT:
		return transport.NewMQTTBus(cfg.MQTTConfig(), logger)
	default:
		return nil, errors.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}
