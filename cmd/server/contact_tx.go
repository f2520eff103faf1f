package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/tx"
)

const defaultContactTxTimeout = 5 * time.Second

// contactPostgresTx runs the resolver's section in one transaction holding a
// transaction-scoped advisory lock per identity key.
type contactPostgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newContactPostgresTx(db *sql.DB) *contactPostgresTx {
	return &contactPostgresTx{db: db}
}

func (t *contactPostgresTx) RunLocked(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultContactTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin contact tx: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	// Keys arrive sorted, so concurrent callers acquire in the same order.
	for _, key := range keys {
		if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("acquire identity lock %q: %w", key, err)
		}
	}

	if err := fn(tx.WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit contact tx: %w", err)
	}
	return nil
}
