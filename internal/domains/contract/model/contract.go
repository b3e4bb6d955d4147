package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"owlfenc-backend/internal/domains/contract/money"
)

// Party is one of the two signers of a contract.
type Party string

const (
	PartyContractor Party = "contractor"
	PartyClient     Party = "client"
)

func (p Party) IsValid() bool {
	return p == PartyContractor || p == PartyClient
}

func (p Party) String() string {
	return string(p)
}

// Parties lists both signers in a stable order.
var Parties = []Party{PartyContractor, PartyClient}

// Channel is an independent delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelChat  Channel = "chat"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelChat:
		return true
	}
	return false
}

func (c Channel) String() string {
	return string(c)
}

// PartySnapshot is a copy of a party's contact details, not a live reference.
type PartySnapshot struct {
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Company string `json:"company,omitempty"`
	License string `json:"license,omitempty"`
}

// RecipientFor returns the address a channel delivers to.
func (p PartySnapshot) RecipientFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return p.Email
	case ChannelSMS, ChannelChat:
		return p.Phone
	}
	return ""
}

// Value implements driver.Valuer for JSONB
func (p PartySnapshot) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *PartySnapshot) Scan(value interface{}) error {
	return scanJSON(value, p)
}

// Milestone is one line of the payment schedule.
type Milestone struct {
	Description string          `json:"description"`
	Percentage  decimal.Decimal `json:"percentage"`
	Amount      decimal.Decimal `json:"amount"`
	DueNote     string          `json:"due_note,omitempty"`
}

// Milestones is the ordered schedule, stored as JSONB.
type Milestones []Milestone

func (m Milestones) Value() (driver.Value, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Milestone(m))
}

func (m *Milestones) Scan(value interface{}) error {
	return scanJSON(value, (*[]Milestone)(m))
}

// Payment is a received payment against a milestone. Reference is the
// idempotency key: the same reference is never counted twice.
type Payment struct {
	Reference      string          `json:"reference"`
	MilestoneIndex int             `json:"milestone_index"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method,omitempty"`
	ReceivedAt     time.Time       `json:"received_at"`
	RecordedAt     time.Time       `json:"recorded_at"`
}

// Payments is stored as JSONB.
type Payments []Payment

func (p Payments) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Payment(p))
}

func (p *Payments) Scan(value interface{}) error {
	return scanJSON(value, (*[]Payment)(p))
}

// Financials holds the normalized total and the schedule derived from it.
type Financials struct {
	Total      decimal.Decimal `json:"total"`
	Source     string          `json:"source,omitempty"`
	Flags      []money.Flag    `json:"flags,omitempty"`
	Milestones Milestones      `json:"milestones"`
	Payments   Payments        `json:"payments,omitempty"`
}

// Paid sums recorded payments.
func (f Financials) Paid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range f.Payments {
		paid = paid.Add(p.Amount)
	}
	return paid
}

// Balance is what is still owed.
func (f Financials) Balance() decimal.Decimal {
	return f.Total.Sub(f.Paid())
}

// PaidForMilestone sums payments recorded against one milestone.
func (f Financials) PaidForMilestone(idx int) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range f.Payments {
		if p.MilestoneIndex == idx {
			paid = paid.Add(p.Amount)
		}
	}
	return paid
}

// HasPayment reports whether reference was already recorded.
func (f Financials) HasPayment(reference string) bool {
	for _, p := range f.Payments {
		if p.Reference == reference {
			return true
		}
	}
	return false
}

// FlagStrings is used for the text[] column.
func (f Financials) FlagStrings() pq.StringArray {
	out := make(pq.StringArray, 0, len(f.Flags))
	for _, fl := range f.Flags {
		out = append(out, string(fl))
	}
	return out
}

// PartySignature tracks one party's signature and the link issued to them.
type PartySignature struct {
	Signed      bool       `json:"signed"`
	SignedAt    *time.Time `json:"signed_at"`
	SigningLink *string    `json:"signing_link"`
	LinkID      *string    `json:"link_id,omitempty"`
	LinkIssued  *time.Time `json:"link_issued_at,omitempty"`
	SignerName  string     `json:"signer_name,omitempty"`
}

// SignatureState holds both parties' records.
type SignatureState struct {
	Contractor PartySignature `json:"contractor"`
	Client     PartySignature `json:"client"`
}

// For returns the record for a party.
func (s *SignatureState) For(p Party) *PartySignature {
	if p == PartyContractor {
		return &s.Contractor
	}
	return &s.Client
}

// BothSigned is the completion condition.
func (s SignatureState) BothSigned() bool {
	return s.Contractor.Signed && s.Client.Signed
}

// ClearLinks drops every issued link.
func (s *SignatureState) ClearLinks() {
	for _, p := range Parties {
		rec := s.For(p)
		rec.SigningLink = nil
		rec.LinkID = nil
		rec.LinkIssued = nil
	}
}

func (s SignatureState) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *SignatureState) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// Contract is the aggregate root.
type Contract struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OwnerID    uuid.UUID `json:"owner_id" db:"owner_id"`
	Status     Status    `json:"status" db:"status"`
	Title      string    `json:"title" db:"title"`
	ProjectRef string    `json:"project_ref,omitempty" db:"project_ref"`

	Client      PartySnapshot `json:"client" db:"client"`
	Contractor  PartySnapshot `json:"contractor" db:"contractor"`
	ScopeOfWork string        `json:"scope_of_work" db:"scope_of_work"`

	// FinancialInput is the raw upstream record, kept verbatim for resume.
	FinancialInput json.RawMessage `json:"financial_input,omitempty" db:"financial_input"`
	Financials     Financials      `json:"financials"`

	LegalClauses pq.StringArray `json:"legal_clauses" db:"legal_clauses"`
	Signatures   SignatureState `json:"signatures" db:"signatures"`

	DocumentURL        *string `json:"document_url,omitempty" db:"document_url"`
	ErrorMessage       *string `json:"error_message,omitempty" db:"error_message"`
	CancellationReason *string `json:"cancellation_reason,omitempty" db:"cancellation_reason"`

	Version int `json:"version" db:"version"`

	CreatedAt           time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
	LastSavedAt         time.Time  `json:"last_saved_at" db:"last_saved_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty" db:"processing_started_at"`
	CompletedAt         *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}

	out := *c
	if c.FinancialInput != nil {
		out.FinancialInput = append(json.RawMessage(nil), c.FinancialInput...)
	}
	out.Financials.Flags = append([]money.Flag(nil), c.Financials.Flags...)
	out.Financials.Milestones = append(Milestones(nil), c.Financials.Milestones...)
	out.Financials.Payments = append(Payments(nil), c.Financials.Payments...)
	out.LegalClauses = append(pq.StringArray(nil), c.LegalClauses...)
	out.Signatures = SignatureState{
		Contractor: c.Signatures.Contractor.clone(),
		Client:     c.Signatures.Client.clone(),
	}
	out.DocumentURL = cloneString(c.DocumentURL)
	out.ErrorMessage = cloneString(c.ErrorMessage)
	out.CancellationReason = cloneString(c.CancellationReason)
	out.ProcessingStartedAt = cloneTime(c.ProcessingStartedAt)
	out.CompletedAt = cloneTime(c.CompletedAt)
	out.CancelledAt = cloneTime(c.CancelledAt)
	return &out
}

func (p PartySignature) clone() PartySignature {
	p.SignedAt = cloneTime(p.SignedAt)
	p.SigningLink = cloneString(p.SigningLink)
	p.LinkID = cloneString(p.LinkID)
	p.LinkIssued = cloneTime(p.LinkIssued)
	return p
}

// Transition moves the contract to next or reports why it cannot.
func (c *Contract) Transition(next Status, at time.Time) error {
	if !c.Status.CanTransitionTo(next) {
		return NewContractError(
			ErrCodeInvalidTransition,
			fmt.Sprintf("cannot transition from '%s' to '%s'", c.Status, next),
			ErrInvalidTransition,
		)
	}

	c.Status = next
	c.UpdatedAt = at
	switch next {
	case StatusProcessing:
		c.ProcessingStartedAt = &at
		c.ErrorMessage = nil
	case StatusCompleted:
		c.CompletedAt = &at
	case StatusCancelled:
		c.CancelledAt = &at
	}
	return nil
}

// DeliveryOutcome values are "sent" or "failed:<reason>".
const OutcomeSent = "sent"

// FailedOutcome formats a failed delivery outcome.
func FailedOutcome(reason string) string {
	return "failed:" + reason
}

// DeliveryLogEntry records one channel attempt. Entries are append-only.
type DeliveryLogEntry struct {
	ID                uuid.UUID `json:"id" db:"id"`
	ContractID        uuid.UUID `json:"contract_id" db:"contract_id"`
	Seq               int       `json:"seq" db:"seq"`
	Channel           Channel   `json:"channel" db:"channel"`
	Party             Party     `json:"party" db:"party"`
	Recipient         string    `json:"recipient" db:"recipient"`
	Purpose           string    `json:"purpose" db:"purpose"`
	Outcome           string    `json:"outcome" db:"outcome"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty" db:"provider_message_id"`
	AttemptAt         time.Time `json:"attempt_at" db:"attempt_at"`
}

// Sent reports whether the attempt succeeded.
func (e DeliveryLogEntry) Sent() bool {
	return e.Outcome == OutcomeSent
}

// Delivery purposes
const (
	PurposeSigningInvite    = "signing_invite"
	PurposeCompletionNotice = "completion_notice"
)

// EventKind classifies audit events.
type EventKind string

const (
	EventStatusChanged     EventKind = "status_changed"
	EventDraftSaved        EventKind = "draft_saved"
	EventNormalization     EventKind = "normalization_warning"
	EventPartySigned       EventKind = "party_signed"
	EventDuplicateIgnored  EventKind = "duplicate_ignored"
	EventLinkIssued        EventKind = "link_issued"
	EventLinkReissued      EventKind = "link_reissued"
	EventPaymentRecorded   EventKind = "payment_recorded"
	EventGenerationFailure EventKind = "generation_failed"
)

// ContractEvent is an audit trail row, modeled on status history.
type ContractEvent struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	ContractID uuid.UUID  `json:"contract_id" db:"contract_id"`
	Kind       EventKind  `json:"kind" db:"kind"`
	FromStatus *Status    `json:"from_status,omitempty" db:"from_status"`
	ToStatus   *Status    `json:"to_status,omitempty" db:"to_status"`
	Party      *Party     `json:"party,omitempty" db:"party"`
	Actor      *uuid.UUID `json:"actor,omitempty" db:"actor"`
	Detail     string     `json:"detail,omitempty" db:"detail"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// NewStatusEvent builds a status change event.
func NewStatusEvent(contractID uuid.UUID, from, to Status, detail string, at time.Time) ContractEvent {
	f, t := from, to
	return ContractEvent{
		ID:         uuid.New(),
		ContractID: contractID,
		Kind:       EventStatusChanged,
		FromStatus: &f,
		ToStatus:   &t,
		Detail:     detail,
		CreatedAt:  at,
	}
}

// NewEvent builds a non-status event.
func NewEvent(contractID uuid.UUID, kind EventKind, detail string, at time.Time) ContractEvent {
	return ContractEvent{
		ID:         uuid.New(),
		ContractID: contractID,
		Kind:       kind,
		Detail:     detail,
		CreatedAt:  at,
	}
}

// WithParty sets the party on an event.
func (e ContractEvent) WithParty(p Party) ContractEvent {
	e.Party = &p
	return e
}

var errInvalidJSONB = errors.New("invalid jsonb value")

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	}
	return errInvalidJSONB
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
