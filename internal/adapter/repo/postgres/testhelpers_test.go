package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }
func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// poolStub implements postgres.PgxPool for tests
// It stubs Exec and QueryRow behavior
// Define in a shared helper so multiple *_test.go files can reuse it without redefs

type poolStub struct {
	execErr error
	row     rowStub
	rows    rowsStub
	queryErr error
	txStub  *txStub
	beginErr error
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, p.execErr
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if p.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return &p.rows, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.txStub == nil {
		p.txStub = &txStub{}
	}
	return p.txStub, nil
}

// rowsStub implements pgx.Rows over an in-memory slice of scan functions.
type rowsStub struct {
	scans []func(dest ...any) error
	idx   int
	err   error
}

func (r *rowsStub) Next() bool                               { return r.idx < len(r.scans) }
func (r *rowsStub) Scan(dest ...any) error                    { s := r.scans[r.idx]; r.idx++; return s(dest...) }
func (r *rowsStub) Err() error                                { return r.err }
func (r *rowsStub) Close()                                    {}
func (r *rowsStub) CommandTag() pgconn.CommandTag             { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Values() ([]any, error)                    { return nil, nil }
func (r *rowsStub) RawValues() [][]byte                       { return nil }
func (r *rowsStub) Conn() *pgx.Conn                           { return nil }

// txStub implements pgx.Tx with Exec/QueryRow delegating to an embedded poolStub-like
// behavior, and no-op Commit/Rollback.
type txStub struct {
	execErr    error
	commitErr  error
	rollbackErr error
	row        rowStub
}

func (t *txStub) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *txStub) Commit(_ context.Context) error          { return t.commitErr }
func (t *txStub) Rollback(_ context.Context) error        { return t.rollbackErr }
func (t *txStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, t.execErr
}
func (t *txStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	if t.row.scan == nil {
		return rowStub{scan: func(_ ...any) error { return nil }}
	}
	return t.row
}
func (t *txStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) { return nil, nil }
func (t *txStub) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *txStub) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *txStub) LargeObjects() pgx.LargeObjects                            { return pgx.LargeObjects{} }
func (t *txStub) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *txStub) Conn() *pgx.Conn { return nil }
