package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/pkg/cache"
)

const listCacheTTL = 30 * time.Second

// ================================================
// QUERY SERVICE IMPLEMENTATION
// ================================================

type queryService struct {
	repo  repository.ContractRepository
	cache cache.Cache
}

func NewQueryService(repo repository.ContractRepository, c cache.Cache) QueryService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &queryService{repo: repo, cache: c}
}

func (s *queryService) ListDrafts(ctx context.Context, ownerID uuid.UUID, q model.ListQuery) (*model.ContractList, error) {
	return s.List(ctx, ownerID, model.ViewDrafts, q)
}

func (s *queryService) ListInProgress(ctx context.Context, ownerID uuid.UUID, q model.ListQuery) (*model.ContractList, error) {
	return s.List(ctx, ownerID, model.ViewInProgress, q)
}

func (s *queryService) ListCompleted(ctx context.Context, ownerID uuid.UUID, q model.ListQuery) (*model.ContractList, error) {
	return s.List(ctx, ownerID, model.ViewCompleted, q)
}

// List returns one page of a view, sorted by last save, newest first.
func (s *queryService) List(ctx context.Context, ownerID uuid.UUID, view model.View, q model.ListQuery) (*model.ContractList, error) {
	if !view.IsValid() {
		verr := &model.ValidationError{}
		verr.Add("view", "unknown view "+string(view))
		return nil, verr
	}
	q.Normalize()

	key := listCacheKey(ownerID, view, q.Page, q.Limit)
	var cached model.ContractList
	if found, err := s.cache.Get(ctx, key, &cached); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Contract list cache read failed")
	} else if found {
		return &cached, nil
	}

	// read before the query: a write that lands while we read must not be
	// masked by the page we are about to cache
	gen, genOK := listGeneration(ctx, s.cache, ownerID)

	contracts, total, err := s.repo.ListByOwner(ctx, ownerID, view.Statuses(), q.Page, q.Limit)
	if err != nil {
		return nil, persistenceError("failed to list contracts", err)
	}

	list := &model.ContractList{
		View:  view,
		Items: make([]model.ContractSummary, 0, len(contracts)),
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
	}
	for i := range contracts {
		list.Items = append(list.Items, contracts[i].ToSummary())
	}

	if genOK {
		s.cacheList(ctx, ownerID, key, gen, list)
	}
	return list, nil
}

// cacheList stores a page read under generation gen. The generation is checked
// again after the write: an invalidation that raced past DeletePattern bumped
// it first, so the page is dropped here instead.
func (s *queryService) cacheList(ctx context.Context, ownerID uuid.UUID, key, gen string, list *model.ContractList) {
	if cur, ok := listGeneration(ctx, s.cache, ownerID); !ok || cur != gen {
		return
	}
	if err := s.cache.Set(ctx, key, list, listCacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Contract list cache write failed")
		return
	}
	if cur, ok := listGeneration(ctx, s.cache, ownerID); !ok || cur != gen {
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to drop stale contract list page")
		}
	}
}

// Get returns the full aggregate with delivery log and audit events.
func (s *queryService) Get(ctx context.Context, ownerID, contractID uuid.UUID) (*model.ContractDetail, error) {
	c, err := loadOwned(ctx, s.repo, ownerID, contractID)
	if err != nil {
		return nil, err
	}

	logEntries, err := s.repo.ListDeliveryLog(ctx, contractID)
	if err != nil {
		return nil, persistenceError("failed to load delivery log", err)
	}
	events, err := s.repo.ListEvents(ctx, contractID)
	if err != nil {
		return nil, persistenceError("failed to load contract events", err)
	}

	return &model.ContractDetail{
		Contract:    c,
		Paid:        c.Financials.Paid(),
		Balance:     c.Financials.Balance(),
		DeliveryLog: logEntries,
		Events:      events,
	}, nil
}
