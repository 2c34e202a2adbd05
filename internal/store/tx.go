package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Tx exposes the write primitives that must run inside one database
// transaction. It is only obtainable through Store.WithTx.
type Tx struct {
	tx *sqlx.Tx
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on any error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
