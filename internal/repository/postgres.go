package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/apperr"
	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
// Кампании, назначения и счета блокируются построчно (SELECT ... FOR UPDATE),
// обновления дополнительно проверяют версию строки.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// withRetry повторяет чтение при обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isConnectionError(err) || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// mapError переводит конфликты блокировок PostgreSQL в ErrConcurrentModification.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected,
			pgerrcode.LockNotAvailable, pgerrcode.UniqueViolation:
			return apperr.New(apperr.CodeConcurrentModification, op, apperr.WithErr(err))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WithinTx выполняет fn в транзакции READ COMMITTED; блокировки строк удерживаются до фиксации.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit tx", err)
	}
	return nil
}

const campaignColumns = `id, author_id, title, target_reviews, reviews_per_week, available_formats, status,
	overbooking_enabled, overbooking_percent, total_assigned_readers,
	reviews_delivered, reviews_validated, reviews_rejected, reviews_expired, reviews_completed, pending_reviews,
	credits_allocated, credits_committed, credits_refunded,
	manual_distribution_override, manual_weekly_quota, distribution_paused_at, distribution_resumed_at,
	created_at, activated_at, completed_at, updated_at, version`

func scanCampaign(row pgx.Row) (*model.Campaign, error) {
	var (
		c       model.Campaign
		formats string
		status  string
	)
	err := row.Scan(
		&c.ID, &c.AuthorID, &c.Title, &c.TargetReviews, &c.ReviewsPerWeek, &formats, &status,
		&c.OverbookingEnabled, &c.OverbookingPercent, &c.TotalAssignedReaders,
		&c.ReviewsDelivered, &c.ReviewsValidated, &c.ReviewsRejected, &c.ReviewsExpired, &c.ReviewsCompleted, &c.PendingReviews,
		&c.CreditsAllocated, &c.CreditsCommitted, &c.CreditsRefunded,
		&c.ManualDistributionOverride, &c.ManualWeeklyQuota, &c.DistributionPausedAt, &c.DistributionResumedAt,
		&c.CreatedAt, &c.ActivatedAt, &c.CompletedAt, &c.UpdatedAt, &c.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("scan campaign: %w", err)
	}
	c.AvailableFormats = model.FormatSet(formats)
	c.Status = model.CampaignStatus(status)
	return &c, nil
}

const assignmentColumns = `id, campaign_id, reader_id, state, format_assigned, credits_value, queue_position,
	scheduled_week, scheduled_date, is_buffer_assignment, materials_released_at, deadline_at,
	first_access_at, submitted_at, validated_at, completed_at, end_reason, review_url, review_text,
	reservation_tx_id, replaced_by_id, applied_at, updated_at, version`

func scanAssignment(row pgx.Row) (*model.Assignment, error) {
	var (
		a      model.Assignment
		state  string
		format string
	)
	err := row.Scan(
		&a.ID, &a.CampaignID, &a.ReaderID, &state, &format, &a.CreditsValue, &a.QueuePosition,
		&a.ScheduledWeek, &a.ScheduledDate, &a.IsBufferAssignment, &a.MaterialsReleasedAt, &a.DeadlineAt,
		&a.FirstAccessAt, &a.SubmittedAt, &a.ValidatedAt, &a.CompletedAt, &a.EndReason, &a.ReviewURL, &a.ReviewText,
		&a.ReservationTxID, &a.ReplacedByID, &a.AppliedAt, &a.UpdatedAt, &a.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	a.State = model.AssignmentState(state)
	a.FormatAssigned = model.Format(format)
	return &a, nil
}

const accountColumns = `id, owner_id, kind, balance, lifetime_earned, lifetime_withdrawn, created_at, updated_at, version`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a    model.Account
		kind string
	)
	err := row.Scan(&a.ID, &a.OwnerID, &kind, &a.Balance, &a.LifetimeEarned, &a.LifetimeWithdrawn,
		&a.CreatedAt, &a.UpdatedAt, &a.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Kind = model.AccountKind(kind)
	return &a, nil
}

const transactionColumns = `id, account_id, type, amount, balance_before, balance_after, reason, reference_id, reverses_id, created_at`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t   model.Transaction
		typ string
	)
	err := row.Scan(&t.ID, &t.AccountID, &typ, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Reason, &t.ReferenceID, &t.ReversesID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	t.Type = model.TransactionType(typ)
	return &t, nil
}

func collectRows[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var res []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetCampaign возвращает кампанию по идентификатору.
func (r *PostgresRepository) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	var c *model.Campaign
	err := r.withRetry(ctx, func() error {
		var err error
		c, err = scanCampaign(r.pool.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
		return err
	})
	return c, err
}

// ListCampaigns возвращает кампании в статусе status.
func (r *PostgresRepository) ListCampaigns(ctx context.Context, status model.CampaignStatus) ([]model.Campaign, error) {
	var res []model.Campaign
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE status = $1 ORDER BY id`, string(status))
		if err != nil {
			return fmt.Errorf("select campaigns: %w", err)
		}
		res, err = collectRows(rows, scanCampaign)
		return err
	})
	return res, err
}

// ListCampaignsByAuthor возвращает кампании автора.
func (r *PostgresRepository) ListCampaignsByAuthor(ctx context.Context, authorID int64) ([]model.Campaign, error) {
	var res []model.Campaign
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE author_id = $1 ORDER BY id`, authorID)
		if err != nil {
			return fmt.Errorf("select campaigns: %w", err)
		}
		res, err = collectRows(rows, scanCampaign)
		return err
	})
	return res, err
}

// GetAssignment возвращает назначение по идентификатору.
func (r *PostgresRepository) GetAssignment(ctx context.Context, id int64) (*model.Assignment, error) {
	var a *model.Assignment
	err := r.withRetry(ctx, func() error {
		var err error
		a, err = scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id))
		return err
	})
	return a, err
}

// ListAssignmentsByCampaign возвращает назначения кампании в порядке очереди.
func (r *PostgresRepository) ListAssignmentsByCampaign(ctx context.Context, campaignID int64) ([]model.Assignment, error) {
	var res []model.Assignment
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+assignmentColumns+` FROM assignments WHERE campaign_id = $1 ORDER BY queue_position`, campaignID)
		if err != nil {
			return fmt.Errorf("select assignments: %w", err)
		}
		res, err = collectRows(rows, scanAssignment)
		return err
	})
	return res, err
}

// ListAssignmentsByReader возвращает назначения читателя.
func (r *PostgresRepository) ListAssignmentsByReader(ctx context.Context, readerID int64) ([]model.Assignment, error) {
	var res []model.Assignment
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+assignmentColumns+` FROM assignments WHERE reader_id = $1 ORDER BY applied_at`, readerID)
		if err != nil {
			return fmt.Errorf("select assignments: %w", err)
		}
		res, err = collectRows(rows, scanAssignment)
		return err
	})
	return res, err
}

// ListOverdueAssignments возвращает незавершённые назначения с истёкшим сроком,
// следующие за курсором after, в порядке (deadline_at, id).
func (r *PostgresRepository) ListOverdueAssignments(ctx context.Context, now time.Time, after OverdueCursor, limit int) ([]model.Assignment, error) {
	var res []model.Assignment
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+assignmentColumns+` FROM assignments
			 WHERE state IN ('WAITING', 'SCHEDULED', 'APPROVED', 'IN_PROGRESS', 'SUBMITTED', 'VALIDATED')
			   AND deadline_at < $1
			   AND (deadline_at, id) > ($2, $3)
			 ORDER BY deadline_at, id
			 LIMIT $4`,
			now, after.DeadlineAt, after.ID, limit)
		if err != nil {
			return fmt.Errorf("select overdue assignments: %w", err)
		}
		res, err = collectRows(rows, scanAssignment)
		return err
	})
	return res, err
}

// GetAccount возвращает счёт по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	var a *model.Account
	err := r.withRetry(ctx, func() error {
		var err error
		a, err = scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
		return err
	})
	return a, err
}

// GetAccountByOwner возвращает счёт владельца заданного типа.
func (r *PostgresRepository) GetAccountByOwner(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	var a *model.Account
	err := r.withRetry(ctx, func() error {
		var err error
		a, err = scanAccount(r.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 AND kind = $2`, ownerID, string(kind)))
		return err
	})
	return a, err
}

// ListTransactions возвращает журнал счёта в порядке записи.
func (r *PostgresRepository) ListTransactions(ctx context.Context, accountID int64) ([]model.Transaction, error) {
	var res []model.Transaction
	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+transactionColumns+` FROM credit_transactions WHERE account_id = $1 ORDER BY seq`, accountID)
		if err != nil {
			return fmt.Errorf("select transactions: %w", err)
		}
		res, err = collectRows(rows, scanTransaction)
		return err
	})
	return res, err
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	c, err := scanCampaign(t.tx.QueryRow(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError("lock campaign", err)
	}
	return c, nil
}

func (t *pgTx) InsertCampaign(ctx context.Context, c *model.Campaign) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		         $20, $21, $22, $23, $24, $25, $26, $27, 1)`,
		c.ID, c.AuthorID, c.Title, c.TargetReviews, c.ReviewsPerWeek, string(c.AvailableFormats), string(c.Status),
		c.OverbookingEnabled, c.OverbookingPercent, c.TotalAssignedReaders,
		c.ReviewsDelivered, c.ReviewsValidated, c.ReviewsRejected, c.ReviewsExpired, c.ReviewsCompleted, c.PendingReviews,
		c.CreditsAllocated, c.CreditsCommitted, c.CreditsRefunded,
		c.ManualDistributionOverride, c.ManualWeeklyQuota, c.DistributionPausedAt, c.DistributionResumedAt,
		c.CreatedAt, c.ActivatedAt, c.CompletedAt, c.UpdatedAt,
	)
	if err != nil {
		return mapError("insert campaign", err)
	}
	c.Version = 1
	return nil
}

func (t *pgTx) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE campaigns SET
		   title = $3, target_reviews = $4, reviews_per_week = $5, available_formats = $6, status = $7,
		   overbooking_enabled = $8, overbooking_percent = $9, total_assigned_readers = $10,
		   reviews_delivered = $11, reviews_validated = $12, reviews_rejected = $13, reviews_expired = $14,
		   reviews_completed = $15, pending_reviews = $16,
		   credits_allocated = $17, credits_committed = $18, credits_refunded = $19,
		   manual_distribution_override = $20, manual_weekly_quota = $21,
		   distribution_paused_at = $22, distribution_resumed_at = $23,
		   activated_at = $24, completed_at = $25, updated_at = $26, version = version + 1
		 WHERE id = $1 AND version = $2`,
		c.ID, c.Version, c.Title, c.TargetReviews, c.ReviewsPerWeek, string(c.AvailableFormats), string(c.Status),
		c.OverbookingEnabled, c.OverbookingPercent, c.TotalAssignedReaders,
		c.ReviewsDelivered, c.ReviewsValidated, c.ReviewsRejected, c.ReviewsExpired,
		c.ReviewsCompleted, c.PendingReviews,
		c.CreditsAllocated, c.CreditsCommitted, c.CreditsRefunded,
		c.ManualDistributionOverride, c.ManualWeeklyQuota,
		c.DistributionPausedAt, c.DistributionResumedAt,
		c.ActivatedAt, c.CompletedAt, c.UpdatedAt,
	)
	if err != nil {
		return mapError("update campaign", err)
	}
	if tag.RowsAffected() != 1 {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("campaign %d version %d is stale", c.ID, c.Version))
	}
	c.Version++
	return nil
}

func (t *pgTx) LockAssignment(ctx context.Context, id int64) (*model.Assignment, error) {
	a, err := scanAssignment(t.tx.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError("lock assignment", err)
	}
	return a, nil
}

func (t *pgTx) InsertAssignment(ctx context.Context, a *model.Assignment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO assignments (`+assignmentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		         $20, $21, $22, $23, 1)`,
		a.ID, a.CampaignID, a.ReaderID, string(a.State), string(a.FormatAssigned), a.CreditsValue, a.QueuePosition,
		a.ScheduledWeek, a.ScheduledDate, a.IsBufferAssignment, a.MaterialsReleasedAt, a.DeadlineAt,
		a.FirstAccessAt, a.SubmittedAt, a.ValidatedAt, a.CompletedAt, a.EndReason, a.ReviewURL, a.ReviewText,
		a.ReservationTxID, a.ReplacedByID, a.AppliedAt, a.UpdatedAt,
	)
	if err != nil {
		return mapError("insert assignment", err)
	}
	a.Version = 1
	return nil
}

func (t *pgTx) UpdateAssignment(ctx context.Context, a *model.Assignment) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE assignments SET
		   state = $3, format_assigned = $4, credits_value = $5, queue_position = $6, scheduled_week = $7,
		   scheduled_date = $8, is_buffer_assignment = $9, materials_released_at = $10, deadline_at = $11,
		   first_access_at = $12, submitted_at = $13, validated_at = $14, completed_at = $15,
		   end_reason = $16, review_url = $17, review_text = $18, reservation_tx_id = $19, replaced_by_id = $20,
		   updated_at = $21, version = version + 1
		 WHERE id = $1 AND version = $2`,
		a.ID, a.Version, string(a.State), string(a.FormatAssigned), a.CreditsValue, a.QueuePosition, a.ScheduledWeek,
		a.ScheduledDate, a.IsBufferAssignment, a.MaterialsReleasedAt, a.DeadlineAt,
		a.FirstAccessAt, a.SubmittedAt, a.ValidatedAt, a.CompletedAt,
		a.EndReason, a.ReviewURL, a.ReviewText, a.ReservationTxID, a.ReplacedByID,
		a.UpdatedAt,
	)
	if err != nil {
		return mapError("update assignment", err)
	}
	if tag.RowsAffected() != 1 {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("assignment %d version %d is stale", a.ID, a.Version))
	}
	a.Version++
	return nil
}

func (t *pgTx) CampaignAssignments(ctx context.Context, campaignID int64) ([]model.Assignment, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+assignmentColumns+` FROM assignments WHERE campaign_id = $1 ORDER BY queue_position`, campaignID)
	if err != nil {
		return nil, mapError("select campaign assignments", err)
	}
	return collectRows(rows, scanAssignment)
}

func (t *pgTx) LockAccount(ctx context.Context, id int64) (*model.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, mapError("lock account", err)
	}
	return a, nil
}

func (t *pgTx) AccountByOwner(ctx context.Context, ownerID int64, kind model.AccountKind) (*model.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE owner_id = $1 AND kind = $2 FOR UPDATE`, ownerID, string(kind)))
	if err != nil {
		return nil, mapError("lock account by owner", err)
	}
	return a, nil
}

func (t *pgTx) InsertAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)`,
		a.ID, a.OwnerID, string(a.Kind), a.Balance, a.LifetimeEarned, a.LifetimeWithdrawn, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return mapError("insert account", err)
	}
	a.Version = 1
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *model.Account) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $3, lifetime_earned = $4, lifetime_withdrawn = $5, updated_at = $6,
		   version = version + 1
		 WHERE id = $1 AND version = $2`,
		a.ID, a.Version, a.Balance, a.LifetimeEarned, a.LifetimeWithdrawn, a.UpdatedAt,
	)
	if err != nil {
		return mapError("update account", err)
	}
	if tag.RowsAffected() != 1 {
		return apperr.Wrap(apperr.ErrConcurrentModification, fmt.Sprintf("account %d version %d is stale", a.ID, a.Version))
	}
	a.Version++
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, tr *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credit_transactions (`+transactionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tr.ID, tr.AccountID, string(tr.Type), tr.Amount, tr.BalanceBefore, tr.BalanceAfter,
		tr.Reason, tr.ReferenceID, tr.ReversesID, tr.CreatedAt,
	)
	if err != nil {
		return mapError("insert transaction", err)
	}
	return nil
}

func (t *pgTx) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM credit_transactions WHERE id = $1`, id))
	if err != nil {
		return nil, mapError("get transaction", err)
	}
	return tr, nil
}

func (t *pgTx) ReversalOf(ctx context.Context, id int64) (*model.Transaction, error) {
	tr, err := scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM credit_transactions WHERE reverses_id = $1`, id))
	if err != nil {
		if errors.Is(err, apperr.ErrTransactionNotFound) {
			return nil, nil
		}
		return nil, mapError("get reversal", err)
	}
	return tr, nil
}
