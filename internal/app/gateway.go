package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oliverhazley/MindMend/internal/ble"
	"github.com/oliverhazley/MindMend/internal/config"
	"github.com/oliverhazley/MindMend/internal/hrvclient"
	"github.com/oliverhazley/MindMend/internal/httpapi"
	"github.com/oliverhazley/MindMend/internal/mqtt"
	"github.com/oliverhazley/MindMend/internal/session"
	"github.com/oliverhazley/MindMend/internal/statusapi"
)

const shutdownTimeout = 10 * time.Second

type gateway struct {
	session   *session.Session
	hub       *statusapi.Hub
	handler   http.Handler
	mqtt      *mqtt.Client
	publisher *mqtt.Publisher
}

func newTransport(cfg config.Gateway, logger *slog.Logger) ble.Transport {
	if cfg.SensorMode == config.SensorSimulated {
		return ble.NewSimulator(ble.SimulatorOptions{
			Interval:  cfg.SimInterval,
			DropAfter: cfg.SimDropAfter,
			Battery:   87,
		}, logger)
	}
	return ble.NewAdapter(ble.Options{
		Adapter:     cfg.BLEAdapter,
		NamePrefix:  cfg.BLENamePrefix,
		ScanTimeout: cfg.BLEScanTimeout,
	}, logger)
}

func sessionConfig(cfg config.Gateway) session.Config {
	return session.Config{
		UserID:           cfg.UserID,
		LiveCapacity:     cfg.LiveCapacity,
		Warmup:           cfg.Warmup,
		UploadInterval:   cfg.UploadInterval,
		UploadTimeout:    cfg.UploadTimeout,
		FilterWindow:     cfg.FilterWindow,
		FilterThreshold:  cfg.FilterThresholdMS,
		MinUploadSamples: cfg.MinUploadSamples,
	}
}

func newGateway(cfg config.Gateway, transport ble.Transport, logger *slog.Logger) *gateway {
	uploader := hrvclient.New(cfg.APIBaseURL, cfg.APIToken, cfg.UploadTimeout, logger)
	sess := session.New(sessionConfig(cfg), transport, uploader, logger)

	g := &gateway{session: sess, hub: statusapi.NewHub(logger)}
	sess.OnChange(g.hub.Publish)

	if cfg.MQTTBroker != "" {
		g.mqtt = mqtt.NewClient(cfg, logger)
		g.publisher = mqtt.NewPublisher(g.mqtt, cfg.UserID, logger)
		sess.OnChange(g.publisher.Notify)
	}
	g.handler = statusapi.NewHandler(sess, g.hub, logger)
	return g
}

// RunGateway streams the sensor until ctx is cancelled, then disconnects the
// session so the pending intervals get their final upload.
func RunGateway(ctx context.Context, cfg config.Gateway) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"sensorMode", cfg.SensorMode,
		"userID", cfg.UserID,
		"apiBaseURL", cfg.APIBaseURL,
		"warmup", cfg.Warmup,
		"uploadInterval", cfg.UploadInterval,
		"mqttBroker", cfg.MQTTBroker,
	)
	if cfg.APIToken == "" {
		logger.Warn("API_TOKEN is empty; uploads will be rejected by an authenticating store")
	}

	g := newGateway(cfg, newTransport(cfg, logger), logger)

	bg, stopBG := context.WithCancel(context.Background())
	defer stopBG()
	go g.hub.Run(bg)

	if g.mqtt != nil {
		go g.publisher.Run(bg)
		go func() {
			if err := g.mqtt.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
			}
		}()
	}

	if cfg.AutoConnect {
		go func() {
			if err := g.session.Connect(ctx); err != nil {
				logger.Warn("auto-connect failed; use POST /api/session/connect to retry", "error", err)
			}
		}()
	}

	srv := httpapi.NewServer(cfg.HTTPAddr, g.handler, logger)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("session disconnecting")
	if err := g.session.Disconnect(shutdownCtx); err != nil {
		logger.Warn("session disconnect failed", "error", err)
	}

	if g.mqtt != nil {
		g.mqtt.Disconnect()
	}

	if serveErr != nil {
		return serveErr
	}

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
