package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/money"
	"owlfenc-backend/pkg/database"
)

// =====================================================
// POSTGRES REPOSITORY IMPLEMENTATION
// =====================================================
type postgresContractRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresContractRepository(pool *pgxpool.Pool) ContractRepository {
	return &postgresContractRepository{
		pool: pool,
	}
}

const contractColumns = `
	id, owner_id, status, title, project_ref,
	client, contractor, scope_of_work,
	financial_input, total, total_source, normalization_flags, milestones, payments,
	legal_clauses, signatures,
	document_url, error_message, cancellation_reason,
	version, created_at, updated_at, last_saved_at,
	processing_started_at, completed_at, cancelled_at
`

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*model.Contract, error) {
	var (
		c      model.Contract
		status string
		input  []byte
		flags  []string
	)

	err := row.Scan(
		&c.ID, &c.OwnerID, &status, &c.Title, &c.ProjectRef,
		&c.Client, &c.Contractor, &c.ScopeOfWork,
		&input, &c.Financials.Total, &c.Financials.Source, pq.Array(&flags),
		&c.Financials.Milestones, &c.Financials.Payments,
		pq.Array(&c.LegalClauses), &c.Signatures,
		&c.DocumentURL, &c.ErrorMessage, &c.CancellationReason,
		&c.Version, &c.CreatedAt, &c.UpdatedAt, &c.LastSavedAt,
		&c.ProcessingStartedAt, &c.CompletedAt, &c.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	// rows written by older clients may carry legacy status names
	c.Status, err = model.ParseLegacyStatus(status)
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", c.ID, err)
	}

	if len(input) > 0 {
		c.FinancialInput = input
	}
	for _, f := range flags {
		c.Financials.Flags = append(c.Financials.Flags, money.Flag(f))
	}
	return &c, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// =====================================================
// UPSERT
// =====================================================

func (r *postgresContractRepository) Upsert(ctx context.Context, c *model.Contract) error {
	query := `
		INSERT INTO contracts (
			id, owner_id, status, title, project_ref,
			client, contractor, scope_of_work,
			financial_input, total, total_source, normalization_flags, milestones, payments,
			legal_clauses, signatures, error_message,
			version, created_at, updated_at, last_saved_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16, $17,
			1, NOW(), NOW(), $18
		)
		ON CONFLICT (id) DO UPDATE SET
			title               = EXCLUDED.title,
			project_ref         = EXCLUDED.project_ref,
			client              = EXCLUDED.client,
			contractor          = EXCLUDED.contractor,
			scope_of_work       = EXCLUDED.scope_of_work,
			financial_input     = EXCLUDED.financial_input,
			total               = EXCLUDED.total,
			total_source        = EXCLUDED.total_source,
			normalization_flags = EXCLUDED.normalization_flags,
			milestones          = EXCLUDED.milestones,
			legal_clauses       = EXCLUDED.legal_clauses,
			last_saved_at       = EXCLUDED.last_saved_at,
			version             = contracts.version + 1,
			updated_at          = NOW()
		WHERE contracts.owner_id = EXCLUDED.owner_id
		  AND contracts.status IN ('draft', 'error')
		RETURNING status, version, created_at, updated_at
	`

	var status string
	err := r.pool.QueryRow(ctx, query,
		c.ID,
		c.OwnerID,
		c.Status,
		c.Title,
		c.ProjectRef,
		c.Client,
		c.Contractor,
		c.ScopeOfWork,
		nullableJSON(c.FinancialInput),
		c.Financials.Total,
		c.Financials.Source,
		pq.Array(c.Financials.FlagStrings()),
		c.Financials.Milestones,
		c.Financials.Payments,
		pq.Array(c.LegalClauses),
		c.Signatures,
		c.ErrorMessage,
		c.LastSavedAt,
	).Scan(&status, &c.Version, &c.CreatedAt, &c.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStaleWrite
		}
		return fmt.Errorf("failed to upsert contract: %w", err)
	}

	c.Status, err = model.ParseLegacyStatus(status)
	return err
}

// =====================================================
// GET CONTRACT
// =====================================================

func (r *postgresContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1`

	c, err := scanContract(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return c, nil
}

func (r *postgresContractRepository) GetByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*model.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1 AND owner_id = $2`

	c, err := scanContract(r.pool.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrContractNotFound
		}
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	return c, nil
}

// =====================================================
// MUTATE (SELECT ... FOR UPDATE)
// =====================================================

func (r *postgresContractRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*model.Contract, error) {
	return database.WithTransactionResult(ctx, r.pool, func(tx pgx.Tx) (*model.Contract, error) {
		query := `SELECT ` + contractColumns + ` FROM contracts WHERE id = $1 FOR UPDATE`

		current, err := scanContract(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, model.ErrContractNotFound
			}
			return nil, fmt.Errorf("failed to lock contract: %w", err)
		}

		working := current.Clone()
		mutation, err := fn(working)
		if err != nil {
			return nil, err
		}

		if !mutation.Skip {
			if err := r.updateWithTx(ctx, tx, working, current.Version); err != nil {
				return nil, err
			}
		} else {
			working = current
		}

		if err := insertEvents(ctx, tx, mutation.Events); err != nil {
			return nil, err
		}
		return working, nil
	})
}

func (r *postgresContractRepository) updateWithTx(ctx context.Context, tx pgx.Tx, c *model.Contract, expectedVersion int) error {
	query := `
		UPDATE contracts SET
			status                = $2,
			title                 = $3,
			project_ref           = $4,
			client                = $5,
			contractor            = $6,
			scope_of_work         = $7,
			financial_input       = $8,
			total                 = $9,
			total_source          = $10,
			normalization_flags   = $11,
			milestones            = $12,
			payments              = $13,
			legal_clauses         = $14,
			signatures            = $15,
			document_url          = $16,
			error_message         = $17,
			cancellation_reason   = $18,
			last_saved_at         = $19,
			processing_started_at = $20,
			completed_at          = $21,
			cancelled_at          = $22,
			version               = version + 1,
			updated_at            = NOW()
		WHERE id = $1 AND version = $23
		RETURNING version, updated_at
	`

	err := tx.QueryRow(ctx, query,
		c.ID,
		c.Status,
		c.Title,
		c.ProjectRef,
		c.Client,
		c.Contractor,
		c.ScopeOfWork,
		nullableJSON(c.FinancialInput),
		c.Financials.Total,
		c.Financials.Source,
		pq.Array(c.Financials.FlagStrings()),
		c.Financials.Milestones,
		c.Financials.Payments,
		pq.Array(c.LegalClauses),
		c.Signatures,
		c.DocumentURL,
		c.ErrorMessage,
		c.CancellationReason,
		c.LastSavedAt,
		c.ProcessingStartedAt,
		c.CompletedAt,
		c.CancelledAt,
		expectedVersion,
	).Scan(&c.Version, &c.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrVersionMismatch
		}
		return fmt.Errorf("failed to update contract: %w", err)
	}
	return nil
}

// =====================================================
// LIST
// =====================================================

func (r *postgresContractRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, statuses []model.Status, page, limit int) ([]model.Contract, int, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, s.String())
	}

	countQuery := `SELECT COUNT(*) FROM contracts WHERE owner_id = $1 AND status = ANY($2)`
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, ownerID, pq.Array(names)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count contracts: %w", err)
	}

	query := `SELECT ` + contractColumns + `
		FROM contracts
		WHERE owner_id = $1 AND status = ANY($2)
		ORDER BY last_saved_at DESC, updated_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, ownerID, pq.Array(names), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	contracts := make([]model.Contract, 0, limit)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan contract: %w", err)
		}
		contracts = append(contracts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return contracts, total, nil
}

func (r *postgresContractRepository) ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM contracts
		WHERE status = 'processing' AND processing_started_at < $1
		ORDER BY processing_started_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, startedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale contracts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contract id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *postgresContractRepository) ListUnnotifiedCompleted(ctx context.Context, completedBefore time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT c.id FROM contracts c
		WHERE c.status = 'completed' AND c.completed_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM contract_delivery_logs l
			WHERE l.contract_id = c.id AND l.purpose = $2
		  )
		ORDER BY c.completed_at
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, completedBefore, model.PurposeCompletionNotice, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unnotified contracts: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contract id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =====================================================
// DELIVERY LOG
// =====================================================

func (r *postgresContractRepository) AppendDeliveryLog(ctx context.Context, entry *model.DeliveryLogEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	return database.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		// the row lock serializes sequence assignment per contract
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM contracts WHERE id = $1 FOR UPDATE`, entry.ContractID).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrContractNotFound
			}
			return fmt.Errorf("failed to lock contract: %w", err)
		}

		query := `
			INSERT INTO contract_delivery_logs (
				id, contract_id, seq, channel, party, recipient,
				purpose, outcome, provider_message_id, attempt_at
			)
			SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8, $9
			FROM contract_delivery_logs
			WHERE contract_id = $2
			RETURNING seq
		`

		err = tx.QueryRow(ctx, query,
			entry.ID,
			entry.ContractID,
			entry.Channel,
			entry.Party,
			entry.Recipient,
			entry.Purpose,
			entry.Outcome,
			entry.ProviderMessageID,
			entry.AttemptAt,
		).Scan(&entry.Seq)
		if err != nil {
			return fmt.Errorf("failed to append delivery log: %w", err)
		}
		return nil
	})
}

func (r *postgresContractRepository) ListDeliveryLog(ctx context.Context, contractID uuid.UUID) ([]model.DeliveryLogEntry, error) {
	query := `
		SELECT id, contract_id, seq, channel, party, recipient,
		       purpose, outcome, provider_message_id, attempt_at
		FROM contract_delivery_logs
		WHERE contract_id = $1
		ORDER BY seq
	`

	rows, err := r.pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery log: %w", err)
	}
	defer rows.Close()

	entries := []model.DeliveryLogEntry{}
	for rows.Next() {
		var (
			e              model.DeliveryLogEntry
			channel, party string
		)
		if err := rows.Scan(
			&e.ID, &e.ContractID, &e.Seq, &channel, &party, &e.Recipient,
			&e.Purpose, &e.Outcome, &e.ProviderMessageID, &e.AttemptAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery log: %w", err)
		}
		e.Channel = model.Channel(channel)
		e.Party = model.Party(party)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =====================================================
// EVENTS
// =====================================================

func (r *postgresContractRepository) AppendEvents(ctx context.Context, events ...model.ContractEvent) error {
	if len(events) == 0 {
		return nil
	}
	return database.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		return insertEvents(ctx, tx, events)
	})
}

func insertEvents(ctx context.Context, tx pgx.Tx, events []model.ContractEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO contract_events (
			id, contract_id, kind, from_status, to_status, party, actor, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.ID,
			e.ContractID,
			e.Kind,
			e.FromStatus,
			e.ToStatus,
			e.Party,
			e.Actor,
			e.Detail,
			e.CreatedAt,
		)
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert contract event: %w", err)
		}
	}
	return nil
}

func (r *postgresContractRepository) ListEvents(ctx context.Context, contractID uuid.UUID) ([]model.ContractEvent, error) {
	query := `
		SELECT id, contract_id, kind, from_status, to_status, party, actor, detail, created_at
		FROM contract_events
		WHERE contract_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contract events: %w", err)
	}
	defer rows.Close()

	events := []model.ContractEvent{}
	for rows.Next() {
		var (
			e        model.ContractEvent
			kind     string
			from, to *string
			party    *string
		)
		if err := rows.Scan(&e.ID, &e.ContractID, &kind, &from, &to, &party, &e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contract event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		if from != nil {
			s := model.Status(*from)
			e.FromStatus = &s
		}
		if to != nil {
			s := model.Status(*to)
			e.ToStatus = &s
		}
		if party != nil {
			p := model.Party(*party)
			e.Party = &p
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
