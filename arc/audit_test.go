package arc

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB is a minimal dbExecer recording every statement it was asked to
// run, so AuditStore can be exercised without a live Postgres instance.
type fakeDB struct {
	execs []string
	args  [][]any
	err   error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditStoreEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	store := NewAuditStore(db, nil)

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if len(db.execs) != 1 {
		t.Fatalf("EnsureSchema issued %d statements, want 1", len(db.execs))
	}
}

func TestAuditStoreRecordVerify(t *testing.T) {
	db := &fakeDB{}
	store := NewAuditStore(db, nil)

	store.RecordVerify(context.Background(), AuditRecord{
		TransactionID: "txn-1",
		InstanceCount: 2,
		ChainState:    ChainStatePass,
		OldestPass:    1,
		Custody:       "a.example!b.example",
	})

	if len(db.execs) != 1 {
		t.Fatalf("RecordVerify issued %d statements, want 1", len(db.execs))
	}
	got := db.args[0]
	if len(got) != 5 {
		t.Fatalf("RecordVerify passed %d args, want 5", len(got))
	}
	if got[0] != "txn-1" || got[1] != 2 || got[2] != string(ChainStatePass) || got[3] != 1 || got[4] != "a.example!b.example" {
		t.Fatalf("RecordVerify args = %v, unexpected", got)
	}
}

func TestAuditStoreRecordVerifySwallowsWriteError(t *testing.T) {
	db := &fakeDB{err: errTestWrite}
	store := NewAuditStore(db, nil)

	// Must not panic or propagate the error: auditing must never be able
	// to fail the verify it is recording.
	store.RecordVerify(context.Background(), AuditRecord{TransactionID: "txn-2"})
}

func TestMessageRecordVerify(t *testing.T) {
	db := &fakeDB{}
	store := NewAuditStore(db, nil)

	m, err := NewMessage(DefaultConfig(), ModeVerify)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := m.EOH(); err != nil {
		t.Fatalf("EOH: %v", err)
	}
	if err := m.EOM(); err != nil {
		t.Fatalf("EOM: %v", err)
	}

	m.RecordVerify(context.Background(), store)

	if len(db.execs) != 1 {
		t.Fatalf("Message.RecordVerify issued %d statements, want 1", len(db.execs))
	}
}

var errTestWrite = &testWriteError{}

type testWriteError struct{}

func (*testWriteError) Error() string { return "simulated write failure" }
