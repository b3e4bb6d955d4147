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

// ================================================
// LIFECYCLE SERVICE IMPLEMENTATION
// ================================================

type lifecycleService struct {
	repo       repository.ContractRepository
	renderer   Renderer
	documents  DocumentStore
	signatures SignatureService
	cache      cache.Cache
	now        func() time.Time
}

func NewLifecycleService(
	repo repository.ContractRepository,
	renderer Renderer,
	documents DocumentStore,
	signatures SignatureService,
	c cache.Cache,
) LifecycleService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &lifecycleService{
		repo:       repo,
		renderer:   renderer,
		documents:  documents,
		signatures: signatures,
		cache:      c,
		now:        time.Now,
	}
}

// ================================================
// GENERATE
// ================================================

func (s *lifecycleService) Generate(ctx context.Context, ownerID, contractID uuid.UUID) (*model.GenerateResult, error) {
	log.Info().
		Str("contract_id", contractID.String()).
		Msg("[LifecycleService] Generate")

	// 1. ENTER PROCESSING (or report the current state on replay)
	replayed := false
	contract, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		if c.OwnerID != ownerID {
			return repository.Mutation{}, notFound()
		}

		switch c.Status {
		case model.StatusProcessing, model.StatusAwaitingSignatures, model.StatusCompleted:
			replayed = true
			return repository.Mutation{Skip: true}, nil
		case model.StatusCancelled:
			return repository.Mutation{}, model.NewContractError(
				model.ErrCodeInvalidTransition,
				"cancelled contracts cannot be generated",
				model.ErrInvalidTransition,
			)
		}

		if err := model.ValidateForGeneration(c); err != nil {
			return repository.Mutation{}, err
		}

		from := c.Status
		now := s.now()
		if err := c.Transition(model.StatusProcessing, now); err != nil {
			return repository.Mutation{}, err
		}
		event := model.NewStatusEvent(c.ID, from, c.Status, "generation requested", now)
		event.Actor = &ownerID
		return repository.Mutation{Events: []model.ContractEvent{event}}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			return nil, notFound()
		}
		return nil, persistenceError("failed to start generation", err)
	}

	if replayed {
		return generateResult(contract, nil, true), nil
	}
	invalidateOwnerLists(ctx, s.cache, ownerID)

	// 2. RENDER AND STORE THE FROZEN DOCUMENT
	url, err := s.renderAndStore(ctx, contract)
	if err != nil {
		return nil, s.failGeneration(ctx, contract, err)
	}

	if _, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		if c.Status != model.StatusProcessing {
			return repository.Mutation{}, invalidTransition(c.Status, model.StatusAwaitingSignatures)
		}
		c.DocumentURL = &url
		return repository.Mutation{}, nil
	}); err != nil {
		return nil, s.failGeneration(ctx, contract, err)
	}

	// 3. ISSUE SIGNING LINKS -> awaiting_signatures
	links, err := s.signatures.Initiate(ctx, contractID)
	if err != nil {
		return nil, s.failGeneration(ctx, contract, err)
	}

	contract, err = s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, persistenceError("failed to reload contract", err)
	}
	invalidateOwnerLists(ctx, s.cache, ownerID)

	log.Info().
		Str("contract_id", contractID.String()).
		Str("status", contract.Status.String()).
		Msg("[LifecycleService] Contract generated")

	return generateResult(contract, links, false), nil
}

func (s *lifecycleService) renderAndStore(ctx context.Context, c *model.Contract) (string, error) {
	data, contentType, err := s.renderer.Render(c, s.now())
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	key := fmt.Sprintf("contracts/%s/%s/v%d.json", c.OwnerID, c.ID, c.Version)
	url, err := s.documents.Upload(ctx, key, data, contentType)
	if err != nil {
		return "", fmt.Errorf("store document: %w", err)
	}
	return url, nil
}

// failGeneration records cause on the contract and moves it to error. When the
// contract already left processing (cancelled meanwhile) the status is kept.
func (s *lifecycleService) failGeneration(ctx context.Context, contract *model.Contract, cause error) error {
	log.Error().
		Err(cause).
		Str("contract_id", contract.ID.String()).
		Msg("[LifecycleService] Generation failed")

	msg := cause.Error()
	_, err := s.repo.Mutate(ctx, contract.ID, func(c *model.Contract) (repository.Mutation, error) {
		now := s.now()
		failure := model.NewEvent(c.ID, model.EventGenerationFailure, msg, now)
		if c.Status != model.StatusProcessing {
			return repository.Mutation{Skip: true, Events: []model.ContractEvent{failure}}, nil
		}

		if err := c.Transition(model.StatusError, now); err != nil {
			return repository.Mutation{}, err
		}
		c.ErrorMessage = &msg
		c.Signatures.ClearLinks()
		return repository.Mutation{Events: []model.ContractEvent{
			failure,
			model.NewStatusEvent(c.ID, model.StatusProcessing, model.StatusError, msg, now),
		}}, nil
	})
	if err != nil {
		log.Error().Err(err).Str("contract_id", contract.ID.String()).Msg("Failed to record generation failure")
	}
	invalidateOwnerLists(ctx, s.cache, contract.OwnerID)

	return model.NewContractError(model.ErrCodeGenerationFailed, "contract generation failed", fmt.Errorf("%w: %w", model.ErrGenerationFailed, cause))
}

func generateResult(c *model.Contract, links *model.SigningLinks, replayed bool) *model.GenerateResult {
	result := &model.GenerateResult{
		ContractID:  c.ID,
		Status:      c.Status,
		DocumentURL: c.DocumentURL,
		Links:       links,
		Replayed:    replayed,
	}
	if links == nil && c.Status == model.StatusAwaitingSignatures {
		result.Links = currentLinks(c)
	}
	for _, f := range c.Financials.Flags {
		result.Warnings = append(result.Warnings, f.Message())
	}
	return result
}

func currentLinks(c *model.Contract) *model.SigningLinks {
	links := &model.SigningLinks{}
	if l := c.Signatures.Contractor.SigningLink; l != nil {
		links.ContractorLink = *l
	}
	if l := c.Signatures.Client.SigningLink; l != nil {
		links.ClientLink = *l
	}
	return links
}

func invalidTransition(from, to model.Status) error {
	return model.NewContractError(
		model.ErrCodeInvalidTransition,
		fmt.Sprintf("cannot transition from '%s' to '%s'", from, to),
		model.ErrInvalidTransition,
	)
}

// ================================================
// CANCEL
// ================================================

func (s *lifecycleService) Cancel(ctx context.Context, ownerID, contractID uuid.UUID, reason string) (*model.Contract, error) {
	log.Info().
		Str("contract_id", contractID.String()).
		Msg("[LifecycleService] Cancel")

	contract, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		if c.OwnerID != ownerID {
			return repository.Mutation{}, notFound()
		}
		if c.Status.IsTerminal() {
			return repository.Mutation{}, invalidTransition(c.Status, model.StatusCancelled)
		}

		from := c.Status
		now := s.now()
		if err := c.Transition(model.StatusCancelled, now); err != nil {
			return repository.Mutation{}, err
		}
		if reason != "" {
			c.CancellationReason = &reason
		}
		// outstanding links die with the contract
		c.Signatures.ClearLinks()

		event := model.NewStatusEvent(c.ID, from, c.Status, reason, now)
		event.Actor = &ownerID
		return repository.Mutation{Events: []model.ContractEvent{event}}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			return nil, notFound()
		}
		return nil, persistenceError("failed to cancel contract", err)
	}

	invalidateOwnerLists(ctx, s.cache, ownerID)
	return contract, nil
}

// ================================================
// PAYMENTS
// ================================================

func (s *lifecycleService) RecordPayment(ctx context.Context, ownerID, contractID uuid.UUID, req model.RecordPaymentRequest) (*model.PaymentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, model.FromValidation(err)
	}

	duplicate := false
	contract, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		if c.OwnerID != ownerID {
			return repository.Mutation{}, notFound()
		}
		if c.Status != model.StatusCompleted {
			return repository.Mutation{}, model.NewContractError(
				model.ErrCodePaymentRejected,
				"payments can only be recorded on completed contracts",
				model.ErrPaymentRejected,
			)
		}

		now := s.now()
		if c.Financials.HasPayment(req.Reference) {
			duplicate = true
			return repository.Mutation{
				Skip:   true,
				Events: []model.ContractEvent{model.NewEvent(c.ID, model.EventDuplicateIgnored, "payment "+req.Reference, now)},
			}, nil
		}

		if req.MilestoneIndex >= len(c.Financials.Milestones) {
			return repository.Mutation{}, paymentRejected(fmt.Sprintf("milestone %d does not exist", req.MilestoneIndex))
		}
		milestone := c.Financials.Milestones[req.MilestoneIndex]
		outstanding := milestone.Amount.Sub(c.Financials.PaidForMilestone(req.MilestoneIndex))
		if req.Amount.GreaterThan(outstanding) {
			return repository.Mutation{}, paymentRejected(fmt.Sprintf(
				"amount %s exceeds outstanding %s for milestone %d",
				req.Amount.StringFixed(2), outstanding.StringFixed(2), req.MilestoneIndex,
			))
		}

		receivedAt := now
		if req.ReceivedAt != nil {
			receivedAt = *req.ReceivedAt
		}
		c.Financials.Payments = append(c.Financials.Payments, model.Payment{
			Reference:      req.Reference,
			MilestoneIndex: req.MilestoneIndex,
			Amount:         req.Amount.Round(2),
			Method:         req.Method,
			ReceivedAt:     receivedAt,
			RecordedAt:     now,
		})

		event := model.NewEvent(c.ID, model.EventPaymentRecorded,
			fmt.Sprintf("%s %s on milestone %d", req.Reference, req.Amount.StringFixed(2), req.MilestoneIndex), now)
		event.Actor = &ownerID
		return repository.Mutation{Events: []model.ContractEvent{event}}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			return nil, notFound()
		}
		return nil, persistenceError("failed to record payment", err)
	}

	return &model.PaymentResult{
		ContractID: contract.ID,
		Reference:  req.Reference,
		Duplicate:  duplicate,
		Paid:       contract.Financials.Paid(),
		Balance:    contract.Financials.Balance(),
	}, nil
}

func paymentRejected(msg string) error {
	return model.NewContractError(model.ErrCodePaymentRejected, msg, model.ErrPaymentRejected)
}

// ================================================
// STALE PROCESSING SWEEP
// ================================================

func (s *lifecycleService) FailStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	ids, err := s.repo.ListStaleProcessing(ctx, cutoff, 100)
	if err != nil {
		return 0, persistenceError("failed to list stale contracts", err)
	}

	moved := 0
	for _, id := range ids {
		var owner uuid.UUID
		_, err := s.repo.Mutate(ctx, id, func(c *model.Contract) (repository.Mutation, error) {
			// re-checked under the row lock; generation may have finished meanwhile
			if c.Status != model.StatusProcessing || c.ProcessingStartedAt == nil || !c.ProcessingStartedAt.Before(cutoff) {
				return repository.Mutation{Skip: true}, nil
			}

			now := s.now()
			msg := fmt.Sprintf("generation did not finish within %s", olderThan)
			if err := c.Transition(model.StatusError, now); err != nil {
				return repository.Mutation{}, err
			}
			c.ErrorMessage = &msg
			owner = c.OwnerID
			return repository.Mutation{Events: []model.ContractEvent{
				model.NewStatusEvent(c.ID, model.StatusProcessing, model.StatusError, msg, now),
			}}, nil
		})
		if err != nil {
			log.Error().Err(err).Str("contract_id", id.String()).Msg("Failed to fail stale contract")
			continue
		}
		if owner != uuid.Nil {
			moved++
			invalidateOwnerLists(ctx, s.cache, owner)
		}
	}

	if moved > 0 {
		log.Info().Int("count", moved).Msg("[LifecycleService] Stale processing contracts moved to error")
	}
	return moved, nil
}
