package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/repository"
)

// ================================================
// DELIVERY SERVICE IMPLEMENTATION
// ================================================

type deliveryService struct {
	repo      repository.ContractRepository
	providers map[model.Channel]Provider
	now       func() time.Time
}

// NewDeliveryService wires one provider per channel. A channel without a
// provider is reported as failed when requested.
func NewDeliveryService(repo repository.ContractRepository, providers map[model.Channel]Provider) DeliveryService {
	return &deliveryService{
		repo:      repo,
		providers: providers,
		now:       time.Now,
	}
}

// ================================================
// SEND SIGNING INVITATION
// ================================================

func (s *deliveryService) Send(ctx context.Context, ownerID, contractID uuid.UUID, req model.SendRequest) (*model.SendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, model.FromValidation(err)
	}

	party := req.Party
	if party == "" {
		party = model.PartyClient
	}

	log.Info().
		Str("contract_id", contractID.String()).
		Str("party", party.String()).
		Int("channels", len(req.Channels)).
		Msg("[DeliveryService] Send")

	c, err := loadOwned(ctx, s.repo, ownerID, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.StatusAwaitingSignatures {
		return nil, model.NewContractError(
			model.ErrCodeNotAwaitingSignature,
			"contract is "+c.Status.String()+"; only contracts awaiting signatures can be sent",
			model.ErrNotAwaitingSignature,
		)
	}

	rec := c.Signatures.For(party)
	if rec.SigningLink == nil {
		return nil, linkInvalid("no signing link issued for " + party.String())
	}

	msg := Message{
		ContractID: c.ID,
		Party:      party,
		Purpose:    model.PurposeSigningInvite,
		Subject:    "Contract ready for your signature: " + c.Title,
		Body:       invitationBody(c, party, *rec.SigningLink),
		Link:       *rec.SigningLink,
	}

	result := s.fanOut(ctx, c, party, uniqueChannels(req.Channels), msg)
	if result.Sent == 0 {
		return result, model.NewContractError(
			model.ErrCodeAllChannelsFailed,
			"delivery failed on every channel",
			model.ErrAllChannelsFailed,
		)
	}
	return result, nil
}

// fanOut delivers msg on every channel concurrently. Each attempt appends
// exactly one delivery log entry whatever its outcome.
func (s *deliveryService) fanOut(ctx context.Context, c *model.Contract, party model.Party, channels []model.Channel, msg Message) *model.SendResult {
	snapshot := c.Client
	if party == model.PartyContractor {
		snapshot = c.Contractor
	}

	results := make([]model.ChannelResult, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			results[i] = s.deliver(ctx, c.ID, party, ch, snapshot.RecipientFor(ch), msg)
			return nil
		})
	}
	_ = g.Wait()

	out := &model.SendResult{ContractID: c.ID, Party: party, Results: results}
	for _, r := range results {
		if r.Outcome == model.OutcomeSent {
			out.Sent++
		} else {
			out.Failed++
		}
	}
	return out
}

func (s *deliveryService) deliver(ctx context.Context, contractID uuid.UUID, party model.Party, ch model.Channel, recipient string, msg Message) model.ChannelResult {
	entry := &model.DeliveryLogEntry{
		ContractID: contractID,
		Channel:    ch,
		Party:      party,
		Recipient:  recipient,
		Purpose:    msg.Purpose,
		AttemptAt:  s.now(),
	}
	result := model.ChannelResult{Channel: ch, Recipient: recipient}

	var sendErr error
	provider, ok := s.providers[ch]
	switch {
	case !ok || provider == nil:
		sendErr = fmt.Errorf("%w: %s", model.ErrUnknownChannel, ch)
	case strings.TrimSpace(recipient) == "":
		sendErr = fmt.Errorf("%w: %s", model.ErrMissingRecipient, ch)
	default:
		messageID, err := provider.Send(ctx, recipient, msg)
		if err != nil {
			sendErr = err
		} else if messageID != "" {
			entry.ProviderMessageID = &messageID
		}
	}

	if sendErr != nil {
		entry.Outcome = model.FailedOutcome(sendErr.Error())
		result.Error = sendErr.Error()
		log.Error().
			Err(sendErr).
			Str("contract_id", contractID.String()).
			Str("channel", ch.String()).
			Msg("Delivery attempt failed")
	} else {
		entry.Outcome = model.OutcomeSent
	}
	result.Outcome = entry.Outcome

	if err := s.repo.AppendDeliveryLog(ctx, entry); err != nil {
		log.Error().Err(err).Str("contract_id", contractID.String()).Msg("Failed to append delivery log")
	}
	return result
}

func uniqueChannels(in []model.Channel) []model.Channel {
	seen := make(map[model.Channel]bool, len(in))
	out := make([]model.Channel, 0, len(in))
	for _, ch := range in {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}

func invitationBody(c *model.Contract, party model.Party, link string) string {
	var b strings.Builder
	other := c.Contractor.Name
	if party == model.PartyContractor {
		other = c.Client.Name
	}
	fmt.Fprintf(&b, "The contract %q with %s is ready to sign.\n", c.Title, other)
	fmt.Fprintf(&b, "Total: $%s\n", c.Financials.Total.StringFixed(2))
	fmt.Fprintf(&b, "Review and sign: %s\n", link)
	return b.String()
}

// ================================================
// COMPLETION NOTICE
// ================================================

func (s *deliveryService) SendCompletionNotice(ctx context.Context, contractID uuid.UUID) (*model.SendResult, error) {
	c, err := s.repo.GetByID(ctx, contractID)
	if err != nil {
		return nil, persistenceError("failed to load contract", err)
	}
	if c.Status != model.StatusCompleted {
		log.Warn().
			Str("contract_id", contractID.String()).
			Str("status", c.Status.String()).
			Msg("[DeliveryService] Completion notice skipped")
		return &model.SendResult{ContractID: contractID}, nil
	}

	// retries skip parties already notified
	entries, err := s.repo.ListDeliveryLog(ctx, contractID)
	if err != nil {
		return nil, persistenceError("failed to load delivery log", err)
	}
	notified := map[model.Party]bool{}
	for _, e := range entries {
		if e.Purpose == model.PurposeCompletionNotice && e.Sent() {
			notified[e.Party] = true
		}
	}

	total := &model.SendResult{ContractID: contractID}
	for _, party := range model.Parties {
		if notified[party] {
			continue
		}
		msg := Message{
			ContractID: c.ID,
			Party:      party,
			Purpose:    model.PurposeCompletionNotice,
			Subject:    "Contract signed: " + c.Title,
			Body:       completionBody(c),
		}
		if c.DocumentURL != nil {
			msg.Link = *c.DocumentURL
		}

		r := s.fanOut(ctx, c, party, []model.Channel{model.ChannelEmail}, msg)
		total.Results = append(total.Results, r.Results...)
		total.Sent += r.Sent
		total.Failed += r.Failed
	}

	// a party without an email address cannot be retried into success
	retriable := false
	for _, r := range total.Results {
		if r.Outcome != model.OutcomeSent && r.Recipient != "" {
			retriable = true
		}
	}
	if retriable {
		return total, model.NewContractError(
			model.ErrCodeAllChannelsFailed,
			"completion notice was not delivered to every party",
			model.ErrAllChannelsFailed,
		)
	}
	return total, nil
}

// SweepCompletionNotices picks up completions whose notifier call was lost.
// Any completion notice entry, even a failed one, means the queue task ran and
// owns the retries, so those contracts are left alone.
func (s *deliveryService) SweepCompletionNotices(ctx context.Context, grace time.Duration) (int, error) {
	ids, err := s.repo.ListUnnotifiedCompleted(ctx, s.now().Add(-grace), 100)
	if err != nil {
		return 0, persistenceError("failed to list unnotified contracts", err)
	}

	delivered := 0
	for _, id := range ids {
		res, err := s.SendCompletionNotice(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("contract_id", id.String()).Msg("[DeliveryService] Swept completion notice failed")
			continue
		}
		if res.Sent > 0 {
			delivered++
		}
	}

	if len(ids) > 0 {
		log.Info().
			Int("found", len(ids)).
			Int("delivered", delivered).
			Msg("[DeliveryService] Completion notice sweep")
	}
	return delivered, nil
}

func completionBody(c *model.Contract) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Both parties have signed %q.\n", c.Title)
	if c.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", c.CompletedAt.UTC().Format(time.RFC1123))
	}
	if c.DocumentURL != nil {
		fmt.Fprintf(&b, "Signed copy: %s\n", *c.DocumentURL)
	}
	return b.String()
}
