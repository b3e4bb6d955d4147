package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"owlfenc-backend/internal/domains/contract/model"
)

// memoryContractRepository keeps contracts in process memory. It is used in
// development (STORE_DRIVER=memory) and by service tests.
type memoryContractRepository struct {
	mu        sync.RWMutex
	contracts map[uuid.UUID]*model.Contract
	logs      map[uuid.UUID][]model.DeliveryLogEntry
	events    map[uuid.UUID][]model.ContractEvent

	// per-contract locks serialize Mutate and log appends
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

func NewMemoryContractRepository() ContractRepository {
	return &memoryContractRepository{
		contracts: make(map[uuid.UUID]*model.Contract),
		logs:      make(map[uuid.UUID][]model.DeliveryLogEntry),
		events:    make(map[uuid.UUID][]model.ContractEvent),
		locks:     make(map[uuid.UUID]*sync.Mutex),
		now:       time.Now,
	}
}

func (r *memoryContractRepository) lockFor(id uuid.UUID) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *memoryContractRepository) Upsert(ctx context.Context, c *model.Contract) error {
	l := r.lockFor(c.ID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	existing, ok := r.contracts[c.ID]
	if ok {
		if existing.OwnerID != c.OwnerID || !existing.Status.IsEditable() {
			return ErrStaleWrite
		}
		c.Status = existing.Status
		c.CreatedAt = existing.CreatedAt
		c.Version = existing.Version + 1
	} else {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.Version = 1
	}
	c.UpdatedAt = now

	r.contracts[c.ID] = c.Clone()
	return nil
}

func (r *memoryContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[id]
	if !ok {
		return nil, model.ErrContractNotFound
	}
	return c.Clone(), nil
}

func (r *memoryContractRepository) GetByIDAndOwner(ctx context.Context, id, ownerID uuid.UUID) (*model.Contract, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, model.ErrContractNotFound
	}
	return c, nil
}

func (r *memoryContractRepository) Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*model.Contract, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	mutation, err := fn(working)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !mutation.Skip {
		working.Version = current.Version + 1
		working.UpdatedAt = r.now()
		r.contracts[id] = working.Clone()
	} else {
		working = current
	}
	r.events[id] = append(r.events[id], mutation.Events...)

	return working, nil
}

func (r *memoryContractRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, statuses []model.Status, page, limit int) ([]model.Contract, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[model.Status]bool, len(statuses))
	for _, s := range statuses {
		wanted[s] = true
	}

	var matched []model.Contract
	for _, c := range r.contracts {
		if c.OwnerID != ownerID {
			continue
		}
		if len(wanted) > 0 && !wanted[c.Status] {
			continue
		}
		matched = append(matched, *c.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].LastSavedAt.Equal(matched[j].LastSavedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].LastSavedAt.After(matched[j].LastSavedAt)
	})

	total := len(matched)
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if limit <= 0 || start >= total {
		return []model.Contract{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *memoryContractRepository) ListStaleProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for _, c := range r.contracts {
		if c.Status != model.StatusProcessing || c.ProcessingStartedAt == nil {
			continue
		}
		if c.ProcessingStartedAt.Before(startedBefore) {
			ids = append(ids, c.ID)
		}
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (r *memoryContractRepository) ListUnnotifiedCompleted(ctx context.Context, completedBefore time.Time, limit int) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uuid.UUID
	for _, c := range r.contracts {
		if c.Status != model.StatusCompleted || c.CompletedAt == nil || !c.CompletedAt.Before(completedBefore) {
			continue
		}
		if r.hasNoticeEntry(c.ID) {
			continue
		}
		ids = append(ids, c.ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// hasNoticeEntry expects r.mu held.
func (r *memoryContractRepository) hasNoticeEntry(id uuid.UUID) bool {
	for _, e := range r.logs[id] {
		if e.Purpose == model.PurposeCompletionNotice {
			return true
		}
	}
	return false
}

func (r *memoryContractRepository) AppendDeliveryLog(ctx context.Context, entry *model.DeliveryLogEntry) error {
	l := r.lockFor(entry.ContractID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.contracts[entry.ContractID]; !ok {
		return model.ErrContractNotFound
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Seq = len(r.logs[entry.ContractID]) + 1
	r.logs[entry.ContractID] = append(r.logs[entry.ContractID], *entry)
	return nil
}

func (r *memoryContractRepository) ListDeliveryLog(ctx context.Context, contractID uuid.UUID) ([]model.DeliveryLogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.DeliveryLogEntry, len(r.logs[contractID]))
	copy(out, r.logs[contractID])
	return out, nil
}

func (r *memoryContractRepository) AppendEvents(ctx context.Context, events ...model.ContractEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range events {
		r.events[e.ContractID] = append(r.events[e.ContractID], e)
	}
	return nil
}

func (r *memoryContractRepository) ListEvents(ctx context.Context, contractID uuid.UUID) ([]model.ContractEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ContractEvent, len(r.events[contractID]))
	copy(out, r.events[contractID])
	return out, nil
}
