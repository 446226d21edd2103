package migrations

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	chstore "belief-pool-indexer/internal/storage/clickhouse"
)

// ApplyClickHouse creates the DSN's database if needed and runs every
// embedded ClickHouse script statement by statement, since the native
// protocol takes one statement per Exec. Scripts must be idempotent. The
// returned connection points at the target database.
func ApplyClickHouse(ctx context.Context, dsn string) (*chstore.Conn, error) {
	db, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	scripts, err := Load("clickhouse")
	if err != nil {
		return nil, err
	}

	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse server: %w", err)
	}
	err = admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+db+"`")
	closeErr := admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", db, err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close server connection: %w", closeErr)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse database %s: %w", db, err)
	}
	for _, f := range scripts {
		for n, stmt := range SplitStatements(f.SQL) {
			if err := conn.Exec(ctx, stmt); err != nil {
				_ = conn.Close()
				return nil, fmt.Errorf("apply migration %s statement %d: %w", f.Name, n+1, err)
			}
		}
	}
	return conn, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", errors.New("clickhouse dsn names no database")
	}
	if strings.ContainsAny(db, "`/") {
		return "", fmt.Errorf("invalid clickhouse database name %q", db)
	}
	return db, nil
}
