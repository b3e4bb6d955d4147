package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/money"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/pkg/cache"
)

// ================================================
// DRAFT SERVICE IMPLEMENTATION
// ================================================

type draftService struct {
	repo       repository.ContractRepository
	normalizer *money.Normalizer
	cache      cache.Cache
	now        func() time.Time
}

func NewDraftService(repo repository.ContractRepository, normalizer *money.Normalizer, c cache.Cache) DraftService {
	if normalizer == nil {
		normalizer = money.Default()
	}
	if c == nil {
		c = cache.NopCache{}
	}
	return &draftService{
		repo:       repo,
		normalizer: normalizer,
		cache:      c,
		now:        time.Now,
	}
}

// ================================================
// SAVE
// ================================================

func (s *draftService) Save(ctx context.Context, ownerID uuid.UUID, req model.SaveDraftRequest) (*model.SaveDraftResult, error) {
	if err := req.Validate(); err != nil {
		return nil, model.FromValidation(err)
	}

	// 1. NORMALIZE THE FINANCIAL RECORD
	norm, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	clauses, err := model.ResolveClauses(req.LegalClauses)
	if err != nil {
		return nil, err
	}

	// 2. RESOLVE TARGET ROW
	now := s.now()
	contract := &model.Contract{
		OwnerID:        ownerID,
		Status:         model.StatusDraft,
		Title:          req.Title,
		ProjectRef:     req.ProjectRef,
		Client:         req.Client,
		Contractor:     req.Contractor,
		ScopeOfWork:    req.ScopeOfWork,
		FinancialInput: req.FinancialInput,
		Financials: model.Financials{
			Total:      norm.Amount,
			Source:     norm.Source,
			Flags:      norm.Flags,
			Milestones: buildMilestones(norm.Amount, req),
		},
		LegalClauses: clauses,
		LastSavedAt:  now,
	}

	created := false
	if req.ContractID == nil {
		contract.ID = uuid.New()
		created = true
	} else {
		contract.ID = *req.ContractID
		existing, err := s.repo.GetByIDAndOwner(ctx, contract.ID, ownerID)
		switch {
		case errors.Is(err, model.ErrContractNotFound):
			// ids are only minted here; an unknown id is never an insert
			return nil, notFound()
		case err != nil:
			return nil, persistenceError("failed to load draft", err)
		case !existing.Status.IsEditable():
			return nil, notEditable(existing.Status)
		}
	}

	// 3. UPSERT
	if err := s.repo.Upsert(ctx, contract); err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return nil, s.staleWriteError(ctx, ownerID, contract.ID)
		}
		log.Error().Err(err).Str("contract_id", contract.ID.String()).Msg("[DraftService] Save failed")
		return nil, persistenceError("failed to save draft", err)
	}

	// 4. AUDIT TRAIL
	events := []model.ContractEvent{model.NewEvent(contract.ID, model.EventDraftSaved, "", now)}
	for _, f := range norm.Flags {
		events = append(events, model.NewEvent(contract.ID, model.EventNormalization, string(f)+": "+norm.Raw, now))
	}
	for i := range events {
		events[i].Actor = &ownerID
	}
	if err := s.repo.AppendEvents(ctx, events...); err != nil {
		log.Warn().Err(err).Str("contract_id", contract.ID.String()).Msg("Failed to append draft events")
	}

	invalidateOwnerLists(ctx, s.cache, ownerID)

	log.Info().
		Str("contract_id", contract.ID.String()).
		Int("version", contract.Version).
		Bool("created", created).
		Msg("[DraftService] Draft saved")

	return &model.SaveDraftResult{
		ContractID:  contract.ID,
		Status:      contract.Status,
		Version:     contract.Version,
		Created:     created,
		Total:       contract.Financials.Total,
		Warnings:    norm.Warnings(),
		LastSavedAt: contract.LastSavedAt,
	}, nil
}

func (s *draftService) normalize(req model.SaveDraftRequest) (money.Result, error) {
	if len(req.FinancialInput) == 0 {
		return s.normalizer.Normalize(nil)
	}

	result, err := s.normalizer.NormalizeJSON(req.FinancialInput)
	if err != nil {
		verr := &model.ValidationError{}
		if errors.Is(err, money.ErrNegativeAmount) {
			verr.Add("financial_input", money.FlagNegativeRejected.Message())
		} else {
			verr.Add("financial_input", err.Error())
		}
		return money.Result{}, verr
	}
	return result, nil
}

// buildMilestones keeps edited amounts unless the caller asked for allocation
// or left any amount blank, in which case every amount is recomputed.
func buildMilestones(total decimal.Decimal, req model.SaveDraftRequest) model.Milestones {
	if len(req.Milestones) == 0 {
		return model.Milestones{}
	}

	allocate := req.AllocateAmounts
	for _, m := range req.Milestones {
		if m.Amount == nil {
			allocate = true
		}
	}

	if allocate {
		inputs := make([]model.MilestoneInput, 0, len(req.Milestones))
		for _, m := range req.Milestones {
			inputs = append(inputs, model.MilestoneInput{
				Description: m.Description,
				Percentage:  m.Percentage,
				DueNote:     m.DueNote,
			})
		}
		return model.AllocateSchedule(total, inputs)
	}

	out := make(model.Milestones, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		out = append(out, model.Milestone{
			Description: m.Description,
			Percentage:  m.Percentage,
			Amount:      *m.Amount,
			DueNote:     m.DueNote,
		})
	}
	return out
}

func (s *draftService) staleWriteError(ctx context.Context, ownerID, contractID uuid.UUID) error {
	current, err := s.repo.GetByIDAndOwner(ctx, contractID, ownerID)
	if err != nil {
		return notFound()
	}
	return notEditable(current.Status)
}

func notEditable(status model.Status) error {
	return model.NewContractError(
		model.ErrCodeNotEditable,
		"contract in status '"+status.String()+"' can no longer be edited",
		model.ErrContractNotEditable,
	)
}

// ================================================
// LOAD (resume)
// ================================================

func (s *draftService) Load(ctx context.Context, ownerID, contractID uuid.UUID) (*model.DraftForm, error) {
	c, err := loadOwned(ctx, s.repo, ownerID, contractID)
	if err != nil {
		return nil, err
	}
	return c.ToDraftForm(), nil
}
