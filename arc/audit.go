package arc

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// dbExecer is the slice of *pgxpool.Pool that AuditStore needs. Accepting
// the interface rather than the concrete pool lets tests exercise
// AuditStore against a fake, without a live Postgres instance.
type dbExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditStore persists one row per verified chain for abuse investigation:
// how many instances it carried, the verdict, how far back the signature
// re-verified, and the custody trail of signing domains. Grounded on the
// teacher pack's Repository pattern (a pool plus *zap.Logger, one method
// per query) rather than an ORM.
type AuditStore struct {
	db     dbExecer
	logger *zap.Logger
}

// NewAuditStore wraps db (typically a *pgxpool.Pool). A nil logger is
// replaced with zap.NewNop().
func NewAuditStore(db dbExecer, logger *zap.Logger) *AuditStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditStore{db: db, logger: logger}
}

// AuditRecord is one row of RecordVerify's input.
type AuditRecord struct {
	TransactionID string
	InstanceCount int
	ChainState    ChainState
	OldestPass    int
	Custody       string
}

const createAuditTableSQL = `
CREATE TABLE IF NOT EXISTS arc_verify_audit (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id TEXT NOT NULL,
	instance_count INT NOT NULL,
	chain_state    TEXT NOT NULL,
	oldest_pass    INT NOT NULL,
	custody        TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates arc_verify_audit if it doesn't already exist.
func (a *AuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.Exec(ctx, createAuditTableSQL); err != nil {
		return fmt.Errorf("arc: create audit table: %w", err)
	}
	return nil
}

// RecordVerify inserts one verdict row. A write failure is logged and
// swallowed — auditing a verify outcome must never be able to fail the
// verify itself.
func (a *AuditStore) RecordVerify(ctx context.Context, rec AuditRecord) {
	const insertSQL = `
		INSERT INTO arc_verify_audit
			(transaction_id, instance_count, chain_state, oldest_pass, custody)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := a.db.Exec(ctx, insertSQL,
		rec.TransactionID, rec.InstanceCount, string(rec.ChainState), rec.OldestPass, rec.Custody,
	); err != nil {
		a.logger.Warn("arc: audit record write failed",
			zap.String("txn", rec.TransactionID), zap.Error(err))
	}
}

// RecordVerify is a convenience wrapper around AuditStore.RecordVerify that
// reads the four fields directly off m (call after EOM).
func (m *Message) RecordVerify(ctx context.Context, store *AuditStore) {
	if store == nil {
		return
	}
	store.RecordVerify(ctx, AuditRecord{
		TransactionID: m.TransactionID,
		InstanceCount: m.sigs.getMaxInstance(),
		ChainState:    m.chainState,
		OldestPass:    m.oldestPass,
		Custody:       m.ChainCustodyStr(),
	})
}
