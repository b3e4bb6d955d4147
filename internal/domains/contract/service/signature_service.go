package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/pkg/cache"
	"owlfenc-backend/pkg/jwt"
)

// ================================================
// SIGNATURE COORDINATOR
// ================================================

type SignatureConfig struct {
	// BaseURL is the public origin signing links point at.
	BaseURL string
	// LinkTTL bounds link lifetime. Zero keeps links valid until reissued or
	// the contract leaves awaiting_signatures.
	LinkTTL time.Duration
}

type signatureService struct {
	repo     repository.ContractRepository
	links    *jwt.Manager
	notifier CompletionNotifier
	cache    cache.Cache
	cfg      SignatureConfig
	now      func() time.Time
}

func NewSignatureService(
	repo repository.ContractRepository,
	links *jwt.Manager,
	notifier CompletionNotifier,
	c cache.Cache,
	cfg SignatureConfig,
) SignatureService {
	if c == nil {
		c = cache.NopCache{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &signatureService{
		repo:     repo,
		links:    links,
		notifier: notifier,
		cache:    c,
		cfg:      cfg,
		now:      time.Now,
	}
}

func linkInvalid(reason string) error {
	return model.NewContractError(model.ErrCodeSigningLinkInvalid, reason, model.ErrSigningLinkInvalid)
}

// issueLink mints a fresh link for party and stores it on c.
func (s *signatureService) issueLink(c *model.Contract, party model.Party, at time.Time) (string, error) {
	linkID := uuid.NewString()
	token, err := s.links.GenerateLinkToken(c.ID.String(), party.String(), linkID, s.cfg.LinkTTL)
	if err != nil {
		return "", err
	}

	link := s.cfg.BaseURL + "/sign/" + token
	rec := c.Signatures.For(party)
	rec.SigningLink = &link
	rec.LinkID = &linkID
	issued := at
	rec.LinkIssued = &issued
	return link, nil
}

// ================================================
// INITIATE
// ================================================

func (s *signatureService) Initiate(ctx context.Context, contractID uuid.UUID) (*model.SigningLinks, error) {
	links := &model.SigningLinks{}

	_, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		if c.Status != model.StatusProcessing {
			return repository.Mutation{}, invalidTransition(c.Status, model.StatusAwaitingSignatures)
		}

		now := s.now()
		c.Signatures = model.SignatureState{}

		var events []model.ContractEvent
		for _, party := range model.Parties {
			link, err := s.issueLink(c, party, now)
			if err != nil {
				return repository.Mutation{}, err
			}
			if party == model.PartyContractor {
				links.ContractorLink = link
			} else {
				links.ClientLink = link
			}
			events = append(events, model.NewEvent(c.ID, model.EventLinkIssued, "", now).WithParty(party))
		}

		if err := c.Transition(model.StatusAwaitingSignatures, now); err != nil {
			return repository.Mutation{}, err
		}
		events = append(events, model.NewStatusEvent(c.ID, model.StatusProcessing, c.Status, "signing links issued", now))
		return repository.Mutation{Events: events}, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("contract_id", contractID.String()).
		Msg("[SignatureService] Signing links issued")

	return links, nil
}

// ================================================
// RESOLVE LINK
// ================================================

func (s *signatureService) claims(token string) (uuid.UUID, model.Party, string, error) {
	claims, err := s.links.ValidateLinkToken(token)
	if err != nil {
		return uuid.Nil, "", "", linkInvalid("signing link is not valid")
	}

	contractID, err := uuid.Parse(claims.ContractID)
	if err != nil {
		return uuid.Nil, "", "", linkInvalid("signing link is not valid")
	}
	party := model.Party(claims.Party)
	if !party.IsValid() || claims.ID == "" {
		return uuid.Nil, "", "", linkInvalid("signing link is not valid")
	}
	return contractID, party, claims.ID, nil
}

// checkLink verifies the link is the one currently issued for an open contract.
func checkLink(c *model.Contract, party model.Party, linkID string) error {
	if c.Status != model.StatusAwaitingSignatures {
		return linkInvalid("contract is " + c.Status.String() + " and no longer accepts signatures")
	}
	rec := c.Signatures.For(party)
	if rec.LinkID == nil || *rec.LinkID != linkID {
		return linkInvalid("signing link has been replaced")
	}
	return nil
}

// checkOwnLink is checkLink plus one exception: a party that already signed
// may reopen their own link after completion.
func checkOwnLink(c *model.Contract, party model.Party, linkID string) error {
	rec := c.Signatures.For(party)
	if c.Status == model.StatusCompleted && rec.Signed && rec.LinkID != nil && *rec.LinkID == linkID {
		return nil
	}
	return checkLink(c, party, linkID)
}

func (s *signatureService) ResolveLink(ctx context.Context, token string) (*model.SigningView, error) {
	contractID, party, linkID, err := s.claims(token)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			return nil, linkInvalid("signing link is not valid")
		}
		return nil, persistenceError("failed to load contract", err)
	}

	if err := checkOwnLink(c, party, linkID); err != nil {
		return nil, err
	}
	rec := c.Signatures.For(party)

	return &model.SigningView{
		ContractID:  c.ID,
		Party:       party,
		Title:       c.Title,
		Client:      c.Client,
		Contractor:  c.Contractor,
		Total:       c.Financials.Total,
		Milestones:  c.Financials.Milestones,
		DocumentURL: c.DocumentURL,
		Signed:      rec.Signed,
	}, nil
}

// ================================================
// SIGN
// ================================================

func (s *signatureService) SignWithLink(ctx context.Context, token string, req model.SignRequest) (*model.SignResult, error) {
	if err := req.Validate(); err != nil {
		return nil, model.FromValidation(err)
	}

	contractID, party, linkID, err := s.claims(token)
	if err != nil {
		return nil, err
	}

	return s.markSigned(ctx, contractID, party, signOptions{
		linkID:     &linkID,
		signerName: req.SignerName,
		signedAt:   s.now(),
	})
}

func (s *signatureService) RecordSignature(ctx context.Context, event model.SignatureEvent) (*model.SignResult, error) {
	if err := event.Validate(); err != nil {
		return nil, model.FromValidation(err)
	}

	signedAt := event.SignedAt
	if signedAt.IsZero() {
		signedAt = s.now()
	}
	return s.markSigned(ctx, event.ContractID, event.Party, signOptions{
		signerName: event.SignerName,
		signedAt:   signedAt,
		eventID:    event.EventID,
	})
}

type signOptions struct {
	linkID     *string
	signerName string
	signedAt   time.Time
	eventID    string
}

// markSigned records one party's signature inside a single read-modify-write.
// Only the call that observes both parties signed performs the completion.
func (s *signatureService) markSigned(ctx context.Context, contractID uuid.UUID, party model.Party, opts signOptions) (*model.SignResult, error) {
	var duplicate, completedHere bool

	contract, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		now := s.now()
		rec := c.Signatures.For(party)

		// a cancelled or replaced link is rejected even for a party that signed
		if opts.linkID != nil {
			if err := checkOwnLink(c, party, *opts.linkID); err != nil {
				return repository.Mutation{}, err
			}
		}

		if rec.Signed {
			duplicate = true
			detail := party.String() + " already signed"
			if opts.eventID != "" {
				detail += " (event " + opts.eventID + ")"
			}
			return repository.Mutation{
				Skip:   true,
				Events: []model.ContractEvent{model.NewEvent(c.ID, model.EventDuplicateIgnored, detail, now).WithParty(party)},
			}, nil
		}

		if c.Status != model.StatusAwaitingSignatures {
			return repository.Mutation{}, model.NewContractError(
				model.ErrCodeNotAwaitingSignature,
				"contract is "+c.Status.String(),
				model.ErrNotAwaitingSignature,
			)
		}

		signedAt := opts.signedAt
		rec.Signed = true
		rec.SignedAt = &signedAt
		rec.SignerName = opts.signerName

		detail := opts.signerName
		if opts.eventID != "" {
			detail = strings.TrimSpace(detail + " event " + opts.eventID)
		}
		events := []model.ContractEvent{model.NewEvent(c.ID, model.EventPartySigned, detail, now).WithParty(party)}

		if c.Signatures.BothSigned() {
			if err := c.Transition(model.StatusCompleted, now); err != nil {
				return repository.Mutation{}, err
			}
			completedHere = true
			events = append(events, model.NewStatusEvent(c.ID, model.StatusAwaitingSignatures, c.Status, "both parties signed", now))
		}
		return repository.Mutation{Events: events}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			if opts.linkID != nil {
				return nil, linkInvalid("signing link is not valid")
			}
			return nil, notFound()
		}
		return nil, persistenceError("failed to record signature", err)
	}

	log.Info().
		Str("contract_id", contractID.String()).
		Str("party", party.String()).
		Bool("duplicate", duplicate).
		Bool("completed", completedHere).
		Msg("[SignatureService] Signature recorded")

	if !duplicate {
		invalidateOwnerLists(ctx, s.cache, contract.OwnerID)
	}

	if completedHere && s.notifier != nil {
		if err := s.notifier.NotifyCompleted(ctx, contractID); err != nil {
			log.Error().Err(err).Str("contract_id", contractID.String()).Msg("Failed to enqueue completion notice, the notice sweep will retry")
		}
	}

	return &model.SignResult{
		ContractID: contract.ID,
		Party:      party,
		Status:     contract.Status,
		Duplicate:  duplicate,
		Completed:  contract.Status == model.StatusCompleted,
	}, nil
}

// ================================================
// REISSUE
// ================================================

func (s *signatureService) ReissueLink(ctx context.Context, ownerID, contractID uuid.UUID, party model.Party) (string, error) {
	if !party.IsValid() {
		verr := &model.ValidationError{}
		verr.Add("party", "party must be contractor or client")
		return "", verr
	}

	var link string
	_, err := s.repo.Mutate(ctx, contractID, func(c *model.Contract) (repository.Mutation, error) {
		if c.OwnerID != ownerID {
			return repository.Mutation{}, notFound()
		}
		if c.Status != model.StatusAwaitingSignatures {
			return repository.Mutation{}, model.NewContractError(
				model.ErrCodeNotAwaitingSignature,
				"links can only be reissued while awaiting signatures",
				model.ErrNotAwaitingSignature,
			)
		}
		if c.Signatures.For(party).Signed {
			return repository.Mutation{}, model.NewContractError(
				model.ErrCodeAlreadySigned,
				party.String()+" has already signed",
				model.ErrPartyAlreadySigned,
			)
		}

		now := s.now()
		var err error
		link, err = s.issueLink(c, party, now)
		if err != nil {
			return repository.Mutation{}, err
		}

		event := model.NewEvent(c.ID, model.EventLinkReissued, "", now).WithParty(party)
		event.Actor = &ownerID
		return repository.Mutation{Events: []model.ContractEvent{event}}, nil
	})
	if err != nil {
		if errors.Is(err, model.ErrContractNotFound) {
			return "", notFound()
		}
		return "", persistenceError("failed to reissue link", err)
	}

	return link, nil
}
