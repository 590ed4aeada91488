// Package sqlproofs keeps the consumed-proof record in a SQL database so that
// several verifier processes share one replay history.
//
// Queries use PostgreSQL syntax. Any database/sql driver speaking it works;
// the facilitator binary registers pgx.
package sqlproofs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	x402 "github.com/atlas402/x402/go"
)

// DefaultTable is the table used when no WithTable option is given
const DefaultTable = "x402_consumed_proofs"

const (
	stateInFlight = "in_flight"
	stateConsumed = "consumed"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a database/sql backed x402.ProofStore
type Store struct {
	db           *sql.DB
	table        string
	minRetention time.Duration
	claimTTL     time.Duration
	now          func() time.Time
}

var _ x402.ProofStore = (*Store)(nil)

// Option configures a Store
type Option func(*Store)

// WithTable stores proofs in the named table
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithMinRetention keeps consumed proofs for at least d. Defaults to one hour.
func WithMinRetention(d time.Duration) Option {
	return func(s *Store) {
		s.minRetention = d
	}
}

// WithClaimTTL bounds how long an in-flight claim survives a crashed verifier.
// Defaults to one minute.
func WithClaimTTL(d time.Duration) Option {
	return func(s *Store) {
		s.claimTTL = d
	}
}

// New returns a store over db
func New(db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:           db,
		table:        DefaultTable,
		minRetention: time.Hour,
		claimTTL:     time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if db == nil {
		return nil, errors.New("sqlproofs: nil database")
	}
	if !tableName.MatchString(s.table) {
		return nil, fmt.Errorf("sqlproofs: invalid table name %q", s.table)
	}
	return s, nil
}

// Migrate creates the proof table if it does not exist. A NULL expires_at
// marks a proof that is never forgotten.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	proof_key TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	claimed_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ
)`, s.table),
		fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN expires_at DROP NOT NULL`, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlproofs: migrate: %w", err)
		}
	}
	return nil
}

// Acquire claims key. The insert is the compare-and-record point: exactly one
// concurrent caller gets a row inserted.
func (s *Store) Acquire(ctx context.Context, key string) (x402.ProofStatus, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return x402.ProofInFlight, fmt.Errorf("sqlproofs: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE proof_key = $1 AND expires_at IS NOT NULL AND expires_at <= $2`, s.table),
		key, now,
	); err != nil {
		return x402.ProofInFlight, fmt.Errorf("sqlproofs: expire: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (proof_key, state, claimed_at, expires_at) VALUES ($1, $2, $3, $4) ON CONFLICT (proof_key) DO NOTHING`, s.table),
		key, stateInFlight, now, now.Add(s.claimTTL),
	)
	if err != nil {
		return x402.ProofInFlight, fmt.Errorf("sqlproofs: claim: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return x402.ProofInFlight, fmt.Errorf("sqlproofs: claim: %w", err)
	}

	status := x402.ProofAcquired
	if inserted == 0 {
		var state string
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT state FROM %s WHERE proof_key = $1`, s.table),
			key,
		).Scan(&state)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// released between our insert and select
			status = x402.ProofInFlight
		case err != nil:
			return x402.ProofInFlight, fmt.Errorf("sqlproofs: lookup: %w", err)
		case state == stateConsumed:
			status = x402.ProofConsumed
		default:
			status = x402.ProofInFlight
		}
	}

	if err := tx.Commit(); err != nil {
		return x402.ProofInFlight, fmt.Errorf("sqlproofs: commit: %w", err)
	}
	return status, nil
}

// Commit marks key consumed until the later of until and now plus the minimum
// retention. A zero until keeps the proof forever.
func (s *Store) Commit(ctx context.Context, key string, until time.Time) error {
	now := s.now().UTC()
	var expiry sql.NullTime
	if !until.IsZero() {
		expiry = sql.NullTime{Time: now.Add(s.minRetention), Valid: true}
		if until.After(expiry.Time) {
			expiry.Time = until.UTC()
		}
	}

	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (proof_key, state, claimed_at, expires_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (proof_key) DO UPDATE SET state = EXCLUDED.state, expires_at = EXCLUDED.expires_at`, s.table),
		key, stateConsumed, now, expiry,
	)
	if err != nil {
		return fmt.Errorf("sqlproofs: consume: %w", err)
	}
	return nil
}

// Release drops an in-flight claim. Consumed proofs are never released.
func (s *Store) Release(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE proof_key = $1 AND state = $2`, s.table),
		key, stateInFlight,
	)
	if err != nil {
		return fmt.Errorf("sqlproofs: release: %w", err)
	}
	return nil
}

// Purge deletes every record that expired before the given time and returns how many were removed
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.table),
		before.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlproofs: purge: %w", err)
	}
	return result.RowsAffected()
}

// RunPurger purges expired records every interval until ctx is done
func (s *Store) RunPurger(ctx context.Context, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Purge(ctx, s.now()); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
