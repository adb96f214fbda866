package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// NewLoggingConnector opens sqlite3 connections that log every statement,
// its arguments and its duration. Use it with sql.OpenDB.
func NewLoggingConnector(dsn string, logger *slog.Logger) driver.Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &logConnector{dsn: dsn, logger: logger, drv: &sqlite3.SQLiteDriver{}}
}

type logConnector struct {
	dsn    string
	logger *slog.Logger
	drv    *sqlite3.SQLiteDriver
}

func (c *logConnector) Connect(context.Context) (driver.Conn, error) {
	conn, err := c.drv.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &logConn{Conn: conn, logger: c.logger}, nil
}

func (c *logConnector) Driver() driver.Driver { return c.drv }

// logConn forwards to the sqlite3 connection. ExecContext is forwarded
// directly so multi-statement scripts run whole instead of being prepared.
type logConn struct {
	driver.Conn
	logger *slog.Logger
}

func (c *logConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		stmt driver.Stmt
		err  error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &logStmt{Stmt: stmt, query: query, logger: c.logger}, nil
}

func (c *logConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: fallback for drivers without BeginTx
	return c.Conn.Begin()
}

func (c *logConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	e, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := e.ExecContext(ctx, query, args)
	logStatement(c.logger, "exec", query, args, start, err)
	return res, err
}

func (c *logConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args)
	logStatement(c.logger, "query", query, args, start, err)
	return rows, err
}

type logStmt struct {
	driver.Stmt
	query  string
	logger *slog.Logger
}

func (s *logStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for statements without ExecContext
		res, err = s.Stmt.Exec(values(args))
	}
	logStatement(s.logger, "exec", s.query, args, start, err)
	return res, err
}

func (s *logStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for statements without QueryContext
		rows, err = s.Stmt.Query(values(args))
	}
	logStatement(s.logger, "query", s.query, args, start, err)
	return rows, err
}

func logStatement(logger *slog.Logger, op, query string, args []driver.NamedValue, start time.Time, err error) {
	attrs := []any{
		"op", op,
		"sql", query,
		"args", formatArgs(args),
		"took", time.Since(start),
	}
	if err != nil && !errors.Is(err, driver.ErrSkip) {
		attrs = append(attrs, "error", err)
	}
	logger.Debug("sql", attrs...)
}

func values(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		var v string
		switch t := a.Value.(type) {
		case nil:
			v = "NULL"
		case []byte:
			v = string(t)
		default:
			v = fmt.Sprint(t)
		}
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}
