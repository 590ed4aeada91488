package sqlproofs

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/atlas402/x402/go"
)

var fixed = time.Unix(1700000000, 0).UTC()

func newStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, opts...)
	require.NoError(t, err)
	store.now = func() time.Time { return fixed }
	return store, mock
}

func expectExpire(mock sqlmock.Sqlmock, key string) {
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM x402_consumed_proofs WHERE proof_key = $1 AND expires_at IS NOT NULL AND expires_at <= $2`)).
		WithArgs(key, fixed).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectClaim(mock sqlmock.Sqlmock, key string, inserted int64) {
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO x402_consumed_proofs (proof_key, state, claimed_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (proof_key) DO NOTHING`)).
		WithArgs(key, stateInFlight, fixed, fixed.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, inserted))
}

func TestNew(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = New(db, WithTable("proofs; DROP TABLE users"))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)

	store, err := New(db, WithTable("payments_seen"), WithMinRetention(time.Minute), WithClaimTTL(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "payments_seen", store.table)
	assert.Equal(t, time.Minute, store.minRetention)
	assert.Equal(t, time.Second, store.claimTTL)
}

func TestMigrate(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS x402_consumed_proofs`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`ALTER TABLE x402_consumed_proofs ALTER COLUMN expires_at DROP NOT NULL`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireFreshKey(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	expectExpire(mock, "k1")
	expectClaim(mock, "k1", 1)
	mock.ExpectCommit()

	status, err := store.Acquire(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, x402.ProofAcquired, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquireExistingKey(t *testing.T) {
	tests := []struct {
		name  string
		state string
		want  x402.ProofStatus
	}{
		{name: "consumed", state: stateConsumed, want: x402.ProofConsumed},
		{name: "in flight", state: stateInFlight, want: x402.ProofInFlight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newStore(t)

			mock.ExpectBegin()
			expectExpire(mock, "k1")
			expectClaim(mock, "k1", 0)
			mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM x402_consumed_proofs WHERE proof_key = $1`)).
				WithArgs("k1").
				WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(tt.state))
			mock.ExpectCommit()

			status, err := store.Acquire(context.Background(), "k1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAcquireDatabaseError(t *testing.T) {
	store, mock := newStore(t)
	dbErr := errors.New("connection reset")

	mock.ExpectBegin()
	expectExpire(mock, "k1")
	mock.ExpectExec(`INSERT INTO x402_consumed_proofs`).WillReturnError(dbErr)
	mock.ExpectRollback()

	_, err := store.Acquire(context.Background(), "k1")
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitKeepsLaterHorizon(t *testing.T) {
	store, mock := newStore(t)
	until := fixed.Add(3 * time.Hour)

	mock.ExpectExec(`INSERT INTO x402_consumed_proofs .* ON CONFLICT \(proof_key\) DO UPDATE`).
		WithArgs("k1", stateConsumed, fixed, until).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Commit(context.Background(), "k1", until))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitAppliesMinimumRetention(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(`INSERT INTO x402_consumed_proofs`).
		WithArgs("k1", stateConsumed, fixed, fixed.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Commit(context.Background(), "k1", fixed.Add(time.Minute)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitWithoutHorizonKeepsForever(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(`INSERT INTO x402_consumed_proofs`).
		WithArgs("k1", stateConsumed, fixed, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Commit(context.Background(), "k1", time.Time{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumedTransferSurvivesRetention(t *testing.T) {
	store, mock := newStore(t)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO x402_consumed_proofs`).
		WithArgs("tx1", stateConsumed, fixed, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Commit(ctx, "tx1", time.Time{}))

	later := fixed.Add(2 * time.Hour)
	store.now = func() time.Time { return later }

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM x402_consumed_proofs WHERE proof_key = $1 AND expires_at IS NOT NULL AND expires_at <= $2`)).
		WithArgs("tx1", later).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO x402_consumed_proofs .* ON CONFLICT \(proof_key\) DO NOTHING`).
		WithArgs("tx1", stateInFlight, later, later.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT state FROM x402_consumed_proofs`).
		WithArgs("tx1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(stateConsumed))
	mock.ExpectCommit()

	status, err := store.Acquire(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, x402.ProofConsumed, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM x402_consumed_proofs WHERE proof_key = $1 AND state = $2`)).
		WithArgs("k1", stateInFlight).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Release(context.Background(), "k1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurge(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM x402_consumed_proofs WHERE expires_at IS NOT NULL AND expires_at <= $1`)).
		WithArgs(fixed).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := store.Purge(context.Background(), fixed)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDrivesVerifierReplayProtection(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	expectExpire(mock, "k1")
	expectClaim(mock, "k1", 0)
	mock.ExpectQuery(`SELECT state FROM x402_consumed_proofs`).
		WithArgs("k1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(stateConsumed))
	mock.ExpectCommit()

	var proofStore x402.ProofStore = store
	status, err := proofStore.Acquire(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, x402.ProofConsumed, status)
}
