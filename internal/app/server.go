package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/oliverhazley/MindMend/internal/auth"
	"github.com/oliverhazley/MindMend/internal/config"
	"github.com/oliverhazley/MindMend/internal/db"
	"github.com/oliverhazley/MindMend/internal/hrvstore"
	"github.com/oliverhazley/MindMend/internal/httpapi"
	"github.com/oliverhazley/MindMend/internal/migrate"
)

func newServerMux(dbConn *sql.DB, tokens *auth.Tokens) *http.ServeMux {
	mux := httpapi.NewMux(dbConn)
	hrvstore.RegisterFeature(mux, dbConn, tokens)
	return mux
}

// RunServer serves the HRV store API until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Server) error {
	logger := slog.Default()
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.Driver,
		"sqlitePath", cfg.Path,
		"dbMaxOpenConns", cfg.MaxOpenConns,
		"dbMaxIdleConns", cfg.MaxIdleConns,
		"dbConnMaxLifetime", cfg.ConnMaxLifetime,
		"dbLogSQL", cfg.LogSQL,
		"tokenTTL", cfg.TokenTTL,
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	n, err := migrate.Run(ctx, dbConn, logger)
	if err != nil {
		return err
	}
	logger.Info("database ready", "migrations_applied", n)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	srv := httpapi.NewServer(cfg.HTTPAddr, newServerMux(dbConn, tokens), logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
