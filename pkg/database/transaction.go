package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Querier
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. Only the handle returned by the call that began the transaction
// (the owner) commits or rolls back; handles joined from the context are no-ops for both.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
}

type joinedTx struct {
	*Transaction
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// TxFromContext returns the open transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txKey).(*Transaction)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

// GetTx joins the transaction already bound to ctx or begins a new one and binds it.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if parent := TxFromContext(ctx); parent != nil {
		return ctx, &joinedTx{Transaction: parent}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}
	return nil
}

func (t *joinedTx) Commit(context.Context) error   { return nil }
func (t *joinedTx) Rollback(context.Context) error { return nil }

// TxManager runs units of work atomically.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type sqlTxManager struct {
	db DB
}

func NewTxManager(db DB) TxManager {
	return &sqlTxManager{db: db}
}

// WithinTx runs fn in a transaction bound to the context passed to fn. A nested call joins the
// outer transaction.
func (m *sqlTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	txCtx, tx, err := m.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(txCtx)
		return err
	}
	return tx.Commit(txCtx)
}
