package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/pkg/cache"
)

// list cache keys: contracts:list:<owner>:<view>:<page>:<limit>
func listCacheKey(ownerID uuid.UUID, view model.View, page, limit int) string {
	return fmt.Sprintf("contracts:list:%s:%s:%d:%d", ownerID, view, page, limit)
}

func ownerListPattern(ownerID uuid.UUID) string {
	return fmt.Sprintf("contracts:list:%s:*", ownerID)
}

// list generation: contracts:listgen:<owner>, bumped on every invalidation.
// Kept outside the list pattern so DeletePattern leaves it alone.
const listGenerationTTL = 24 * time.Hour

func listGenerationKey(ownerID uuid.UUID) string {
	return fmt.Sprintf("contracts:listgen:%s", ownerID)
}

// listGeneration reads the owner's list generation. ok is false when the
// cache could not be read, in which case nothing should be cached.
func listGeneration(ctx context.Context, c cache.Cache, ownerID uuid.UUID) (gen string, ok bool) {
	if _, err := c.Get(ctx, listGenerationKey(ownerID), &gen); err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID.String()).Msg("Contract list generation read failed")
		return "", false
	}
	return gen, true
}

// invalidateOwnerLists bumps the owner's list generation, then drops every
// cached list page. A failure only costs freshness for the cache TTL, so it
// is logged and swallowed.
func invalidateOwnerLists(ctx context.Context, c cache.Cache, ownerID uuid.UUID) {
	if c == nil {
		return
	}
	if err := c.Set(ctx, listGenerationKey(ownerID), uuid.NewString(), listGenerationTTL); err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID.String()).Msg("Failed to bump contract list generation")
	}
	if err := c.DeletePattern(ctx, ownerListPattern(ownerID)); err != nil {
		log.Warn().Err(err).Str("owner_id", ownerID.String()).Msg("Failed to invalidate contract list cache")
	}
}

// persistenceError wraps a store failure. Domain errors pass through untouched.
func persistenceError(op string, err error) error {
	if err == nil {
		return nil
	}

	var cerr *model.ContractError
	var verr *model.ValidationError
	if errors.As(err, &cerr) || errors.As(err, &verr) ||
		errors.Is(err, model.ErrContractNotFound) ||
		errors.Is(err, model.ErrVersionMismatch) {
		return err
	}
	return model.NewContractError(model.ErrCodePersistence, op, fmt.Errorf("%w: %w", model.ErrPersistence, err))
}

func notFound() error {
	return model.NewContractError(model.ErrCodeContractNotFound, "contract not found", model.ErrContractNotFound)
}

// loadOwned fetches a contract scoped to its owner.
func loadOwned(ctx context.Context, repo repository.ContractRepository, ownerID, contractID uuid.UUID) (*model.Contract, error) {
	c, err := repo.GetByIDAndOwner(ctx, contractID, ownerID)
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			return nil, notFound()
		}
		return nil, persistenceError("failed to load contract", err)
	}
	return c, nil
}

func stringPtr(s string) *string {
	return &s
}
