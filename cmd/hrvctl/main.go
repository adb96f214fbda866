package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oliverhazley/MindMend/internal/auth"
	"github.com/oliverhazley/MindMend/internal/config"
	"github.com/oliverhazley/MindMend/internal/db"
	"github.com/oliverhazley/MindMend/internal/hrvclient"
	"github.com/oliverhazley/MindMend/internal/logging"
	"github.com/oliverhazley/MindMend/internal/migrate"
)

var version = "dev"
var appName = "hrvctl"

const usage = `usage: %s <command>
  migrate             apply pending schema migrations
  status              list migrations and whether they are applied
  token <user_id>     print a bearer token for user_id
  readings <user_id>  list stored readings from API_BASE_URL
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, args []string) error {
	switch args[0] {
	case "migrate", "status":
		cfg, err := config.LoadServer()
		if err != nil {
			return err
		}
		slog.SetDefault(logging.New(cfg.Base, version, appName))
		conn, err := db.Open(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := db.Close(conn); closeErr != nil {
				slog.Error("db close", "err", closeErr)
			}
		}()
		if args[0] == "status" {
			all, err := migrate.Status(ctx, conn)
			if err != nil {
				return err
			}
			for _, m := range all {
				fmt.Fprintf(out, "%s_%s\tapplied=%v\n", m.Version, m.Name, m.Applied)
			}
			return nil
		}
		n, err := migrate.Run(ctx, conn, slog.Default())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "migrations applied: %d\n", n)
		return nil

	case "token":
		if len(args) != 2 {
			return fmt.Errorf("usage: token <user_id>")
		}
		cfg, err := config.LoadServer()
		if err != nil {
			return err
		}
		tok, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL).Issue(args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, tok)
		return nil

	case "readings":
		if len(args) != 2 {
			return fmt.Errorf("usage: readings <user_id>")
		}
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}
		c := hrvclient.New(cfg.APIBaseURL, cfg.APIToken, cfg.Timeout, logging.New(cfg.Base, version, appName))
		readings, err := c.Readings(ctx, args[1])
		if err != nil {
			return err
		}
		for _, r := range readings {
			fmt.Fprintf(out, "%s\t%.2f\n", r.ReadingTime.Format("2006-01-02T15:04:05Z07:00"), r.HRVValue)
		}
		return nil

	default:
		return fmt.Errorf("unknown command")
	}
}
