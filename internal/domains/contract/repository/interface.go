package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"owlfenc-backend/internal/domains/contract/model"
)

// Mutation is what a MutateFunc hands back. Events are appended in the same
// write. With Skip set the contract row is left untouched and only the events
// are written, which is how replayed or duplicate inputs stay auditable.
type Mutation struct {
	Events []model.ContractEvent
	Skip   bool
}

// MutateFunc edits c in place. Returning an error aborts the write.
type MutateFunc func(c *model.Contract) (Mutation, error)

// ErrStaleWrite is returned by Upsert when the row exists but belongs to another
// owner or is no longer editable.
var ErrStaleWrite = errors.New("contract row is not writable by this upsert")

// =====================================================
// CONTRACT REPOSITORY INTERFACE
// =====================================================
type ContractRepository interface {
	// Upsert inserts the contract or, when the id already exists for the same
	// owner and the stored status is still editable, overwrites it.
	Upsert(ctx context.Context, c *model.Contract) error

	GetByID(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	GetByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*model.Contract, error)

	// Mutate runs an atomic read-modify-write on one contract. Concurrent
	// mutations of the same contract are serialized.
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*model.Contract, error)

	ListByOwner(ctx context.Context, ownerID uuid.UUID, statuses []model.Status, page, limit int) ([]model.Contract, int, error)
	ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]uuid.UUID, error)

	// ListUnnotifiedCompleted returns completed contracts, completed before the
	// cutoff, with no completion notice entry of any outcome in the delivery log.
	ListUnnotifiedCompleted(ctx context.Context, completedBefore time.Time, limit int) ([]uuid.UUID, error)

	// AppendDeliveryLog assigns the next sequence number for the contract and
	// stores the entry. Appends for one contract are serialized.
	AppendDeliveryLog(ctx context.Context, entry *model.DeliveryLogEntry) error
	ListDeliveryLog(ctx context.Context, contractID uuid.UUID) ([]model.DeliveryLogEntry, error)

	AppendEvents(ctx context.Context, events ...model.ContractEvent) error
	ListEvents(ctx context.Context, contractID uuid.UUID) ([]model.ContractEvent, error)
}
