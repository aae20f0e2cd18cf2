package mirrors

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cipherglass/cipherglass/ccc/logging"
	"github.com/cipherglass/cipherglass/encryption"
	"github.com/cipherglass/cipherglass/pairs"
)

// SubscriptionConfig declares one mirror subscription. Only Pair is
// required; Query defaults to all rows owned by the replicator's user,
// ordered by updated-at descending, Resolver defaults to the replicator's
// single provider and Retry defaults to the replicator's policy.
type SubscriptionConfig struct {
	Pair     *pairs.Pair
	Query    *WatchQuery
	Resolver CryptoResolver
	Retry    *RetryPolicy
}

// Replicator starts mirror subscriptions: continuous decrypt-and-project
// pipelines from an opaque table into its plaintext mirror, driven by the
// live-query collaborator's diff batches.
type Replicator struct {
	logger   logging.Logger
	conn     *sql.DB
	live     LiveQuery
	provider encryption.CryptoProvider
	userID   string
	retry    RetryPolicy
}

// NewReplicator creates a replicator for the given owner. The provider is
// the default decryption capability; per-subscription resolvers override it
// for multi-key deployments.
func NewReplicator(logger logging.Logger, conn *sql.DB, live LiveQuery, provider encryption.CryptoProvider, userID string, retry RetryPolicy) *Replicator {
	if logger == nil {
		logger = logging.NopLogger
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	return &Replicator{
		logger:   logger,
		conn:     conn,
		live:     live,
		provider: provider,
		userID:   userID,
		retry:    retry,
	}
}

// DefaultWatchQuery scans all of the owner's rows in the pair's opaque
// table, newest first.
func DefaultWatchQuery(pair *pairs.Pair, userID string) WatchQuery {
	return WatchQuery{
		SQL: `
		SELECT id, user_id, bucket_id, alg, aad, nonce, ciphertext, kdf_salt, created_at, updated_at
		FROM ` + pair.EncryptedTable + `
		WHERE user_id = ?
		ORDER BY updated_at DESC`,
		Args: []any{userID},
	}
}

// Subscribe opens the live query for the pair and returns the running
// subscription. The caller owns the subscription and must Close it.
func (r *Replicator) Subscribe(ctx context.Context, cfg SubscriptionConfig) (*Subscription, error) {
	if cfg.Pair == nil {
		return nil, fmt.Errorf("subscription requires a pair")
	}
	if err := cfg.Pair.Validate(); err != nil {
		return nil, err
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = StaticResolver{Provider: r.provider}
	}

	policy := r.retry
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}

	query := DefaultWatchQuery(cfg.Pair, r.userID)
	if cfg.Query != nil {
		query = *cfg.Query
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		logger:   r.logger,
		conn:     r.conn,
		pair:     cfg.Pair,
		userID:   r.userID,
		resolver: resolver,
		retries:  newRetryScheduler(policy),
		plan:     buildMirrorPlan(cfg.Pair),
		ctx:      subCtx,
		cancel:   cancel,
	}

	handle, err := r.live.Watch(subCtx, query, DefaultComparator(), s.onDiff, s.onWatchError)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open live query for pair %s: %w", cfg.Pair.Name, err)
	}
	s.watch = handle

	r.logger.Info("Mirror subscription started", "pair", cfg.Pair.Name, "mirror", cfg.Pair.MirrorTable)
	return s, nil
}

// mirrorPlan is the prebuilt SQL for replacing and deleting mirror rows.
type mirrorPlan struct {
	deleteSQL string
	insertSQL string
}

func buildMirrorPlan(pair *pairs.Pair) mirrorPlan {
	cols := []string{"id", "user_id", "bucket_id", "updated_at"}
	for _, c := range pair.MirrorColumns {
		cols = append(cols, c.Name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	return mirrorPlan{
		deleteSQL: `DELETE FROM ` + pair.MirrorTable + ` WHERE id = ?`,
		insertSQL: `INSERT INTO ` + pair.MirrorTable + ` (` + strings.Join(cols, ", ") + `) VALUES (` + placeholders + `)`,
	}
}

// Subscription is one running opaque-to-mirror pipeline. Batch processing
// is serialized per subscription: a new diff batch is not applied until the
// previous batch's transaction has committed. Different subscriptions give
// no relative ordering guarantee.
type Subscription struct {
	logger   logging.Logger
	conn     *sql.DB
	pair     *pairs.Pair
	userID   string
	resolver CryptoResolver
	retries  *retryScheduler
	plan     mirrorPlan
	watch    WatchHandle
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex // serializes batch and retry transactions
	closeOnce sync.Once
	closeErr  error
}

func (s *Subscription) onDiff(batch DiffBatch) {
	if err := s.ApplyDiff(s.ctx, batch); err != nil {
		// The batch is aborted but the subscription stays alive for the
		// next observation.
		s.logger.Error("Mirror batch aborted", "pair", s.pair.Name, "error", err)
	}
}

func (s *Subscription) onWatchError(err error) {
	s.logger.Error("Live query reported an error", "pair", s.pair.Name, "error", err)
}

// ApplyDiff processes one diff batch inside a single write transaction
// against the mirror table. Row-level decrypt/parse failures are caught
// before they reach the transaction and never abort it; recoverable ones
// are scheduled for retry after the commit. A store failure rolls the whole
// batch back.
func (s *Subscription) ApplyDiff(ctx context.Context, batch DiffBatch) error {
	if batch.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, batch)
}

func (s *Subscription) applyLocked(ctx context.Context, batch DiffBatch) error {
	work := make([]*pairs.EncryptedRow, 0, len(batch.Added)+len(batch.Updated))
	work = append(work, batch.Added...)
	work = append(work, batch.Updated...)

	// A fresh observation supersedes any stale pending retry for the row.
	for _, row := range work {
		s.retries.cancel(s.retryKey(row.ID))
	}
	for _, row := range batch.Removed {
		s.retries.cancel(s.retryKey(row.ID))
	}

	var recoverable []string

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mirror transaction: %w", err)
	}

	for _, row := range work {
		values, err := s.projectRow(ctx, row)
		if err != nil {
			if isRecoverable(err) {
				s.logger.Debug("Row not yet decryptable, scheduling retry", "pair", s.pair.Name, "id", row.ID, "error", err)
				recoverable = append(recoverable, row.ID)
			} else {
				s.logger.Warn("Failed to project row into mirror", "pair", s.pair.Name, "id", row.ID, "error", err)
			}
			continue
		}

		if err := s.replaceRow(ctx, tx, row.ID, values); err != nil {
			tx.Rollback()
			return err
		}
	}

	for _, row := range batch.Removed {
		if _, err := tx.ExecContext(ctx, s.plan.deleteSQL, row.ID); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete mirror row %s: %w", row.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mirror batch: %w", err)
	}

	// Timers are armed only after the batch committed, so a retry can
	// never observe the store mid-batch.
	for _, id := range recoverable {
		s.scheduleRetry(id, 1)
	}

	return nil
}

// projectRow resolves the row's decryption capability, decrypts and parses
// it, and returns the mirror column values in insert order.
func (s *Subscription) projectRow(ctx context.Context, row *pairs.EncryptedRow) ([]any, error) {
	provider, err := s.resolver.ResolveCrypto(ctx, row)
	if err != nil {
		s.logger.Debug("Crypto resolution failed", "pair", s.pair.Name, "id", row.ID, "error", err)
		return nil, NewKeyUnavailableError(row.ID)
	}
	if provider == nil {
		return nil, NewKeyUnavailableError(row.ID)
	}

	plaintext, err := provider.Decrypt(ctx, row.Envelope(), row.AADString())
	if err != nil {
		return nil, err
	}

	parsed, err := s.pair.ParsePlain(pairs.ParseInput{
		Plaintext: plaintext,
		AAD:       row.AADString(),
		Row:       row,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse plaintext for row %s: %w", row.ID, err)
	}

	values := []any{row.ID, row.UserID, row.BucketID, row.UpdatedAt}
	for _, col := range s.pair.MirrorColumns {
		values = append(values, parsed[col.Name])
	}
	return values, nil
}

// replaceRow is a full replace, never a partial update: delete then insert
// keyed by id. Processing the same id twice in one batch therefore leaves
// only the final state.
func (s *Subscription) replaceRow(ctx context.Context, tx *sql.Tx, id string, values []any) error {
	if _, err := tx.ExecContext(ctx, s.plan.deleteSQL, id); err != nil {
		return fmt.Errorf("failed to clear mirror row %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, s.plan.insertSQL, values...); err != nil {
		return fmt.Errorf("failed to insert mirror row %s: %w", id, err)
	}
	return nil
}

// isRecoverable reports whether a row-level failure should feed the retry
// subsystem. Key unavailability and crypto failures are recoverable (a key
// may appear later); parse failures are deterministic and are not retried.
func isRecoverable(err error) bool {
	return IsKeyUnavailableError(err) ||
		encryption.IsDecryptionError(err) ||
		encryption.IsUnsupportedAlgorithmError(err)
}

func (s *Subscription) retryKey(id string) string {
	return s.pair.MirrorTable + "|" + id
}

func (s *Subscription) scheduleRetry(id string, attempt int) {
	armed := s.retries.schedule(s.retryKey(id), attempt, func(a int) {
		s.retryRow(id, a)
	})
	if !armed && attempt > s.retries.policy.MaxAttempts {
		// Abandonment is diagnostic only. The row stays unmirrored until a
		// future diff re-triggers processing or Reprocess is called.
		s.logger.Warn("Abandoning mirror row after retry ceiling", "pair", s.pair.Name, "id", id, "attempts", attempt-1)
	}
}

// retryRow re-reads the row and pushes it through the normal projection
// path in its own small transaction. Failures reschedule with the next
// attempt number until the ceiling.
func (s *Subscription) retryRow(id string, attempt int) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}

	row, err := s.fetchRow(ctx, id)
	if err != nil {
		s.logger.Error("Failed to re-read row for retry", "pair", s.pair.Name, "id", id, "error", err)
		s.scheduleRetry(id, attempt+1)
		return
	}
	if row == nil {
		// Row deleted since the retry was scheduled; the cascade trigger
		// already removed its mirror.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.projectRow(ctx, row)
	if err != nil {
		if isRecoverable(err) {
			s.scheduleRetry(id, attempt+1)
		} else {
			s.logger.Warn("Failed to project row into mirror on retry", "pair", s.pair.Name, "id", id, "error", err)
		}
		return
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to begin retry transaction", "pair", s.pair.Name, "id", id, "error", err)
		s.scheduleRetry(id, attempt+1)
		return
	}
	if err := s.replaceRow(ctx, tx, id, values); err != nil {
		tx.Rollback()
		s.logger.Error("Failed to write mirror row on retry", "pair", s.pair.Name, "id", id, "error", err)
		s.scheduleRetry(id, attempt+1)
		return
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit retry transaction", "pair", s.pair.Name, "id", id, "error", err)
		s.scheduleRetry(id, attempt+1)
		return
	}

	s.logger.Debug("Mirror row recovered on retry", "pair", s.pair.Name, "id", id, "attempt", attempt)
}

func (s *Subscription) fetchRow(ctx context.Context, id string) (*pairs.EncryptedRow, error) {
	query := `
	SELECT id, user_id, bucket_id, alg, aad, nonce, ciphertext, kdf_salt, created_at, updated_at
	FROM ` + s.pair.EncryptedTable + ` WHERE id = ?`

	row := &pairs.EncryptedRow{}
	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&row.ID, &row.UserID, &row.BucketID,
		&row.Alg, &row.AAD, &row.NonceB64, &row.CipherB64, &row.KdfSaltB64,
		&row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch encrypted row: %w", err)
	}
	return row, nil
}

// Reprocess re-reads the owner's opaque rows (optionally limited to one
// bucket) and runs them through the normal update path. Granting a key
// changes no row content, so the live query never re-delivers affected rows
// by itself; callers invoke Reprocess once a new grant is usable.
func (s *Subscription) Reprocess(ctx context.Context, bucketID string) error {
	query := `
	SELECT id, user_id, bucket_id, alg, aad, nonce, ciphertext, kdf_salt, created_at, updated_at
	FROM ` + s.pair.EncryptedTable + ` WHERE user_id = ?`
	args := []any{s.userID}
	if bucketID != "" {
		query += ` AND bucket_id = ?`
		args = append(args, bucketID)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to read rows for reprocessing: %w", err)
	}
	defer rows.Close()

	var updated []*pairs.EncryptedRow
	for rows.Next() {
		row := &pairs.EncryptedRow{}
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.BucketID,
			&row.Alg, &row.AAD, &row.NonceB64, &row.CipherB64, &row.KdfSaltB64,
			&row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to scan row for reprocessing: %w", err)
		}
		updated = append(updated, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read rows for reprocessing: %w", err)
	}

	return s.ApplyDiff(ctx, DiffBatch{Updated: updated})
}

// PendingRetries reports the number of rows currently awaiting a retry.
func (s *Subscription) PendingRetries() int {
	return s.retries.pending()
}

// Close cancels all pending retry timers and closes the underlying live
// query before returning. In-flight work is allowed to complete; no new
// retry may start afterwards.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.retries.stop()
		if s.watch != nil {
			s.closeErr = s.watch.Close()
		}
		s.logger.Info("Mirror subscription stopped", "pair", s.pair.Name)
	})
	return s.closeErr
}
