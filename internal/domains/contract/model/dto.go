package model

import (
	"encoding/json"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ========================================
// DRAFT DTOs
// ========================================

// MilestoneRequest is a schedule line as edited. Amount may be omitted when
// AllocateAmounts is set on the save request.
type MilestoneRequest struct {
	Description string           `json:"description"`
	Percentage  decimal.Decimal  `json:"percentage"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	DueNote     string           `json:"due_note,omitempty"`
}

func (m MilestoneRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Description, validation.Length(0, 500)),
		validation.Field(&m.Percentage, validation.By(percentageRule)),
		validation.Field(&m.Amount, validation.By(nonNegativeDecimalPtr)),
	)
}

// SaveDraftRequest carries the editable fields of a contract. Owner identity
// never comes from the request body.
type SaveDraftRequest struct {
	ContractID      *uuid.UUID         `json:"contract_id,omitempty"`
	Title           string             `json:"title"`
	ProjectRef      string             `json:"project_ref,omitempty"`
	Client          PartySnapshot      `json:"client"`
	Contractor      PartySnapshot      `json:"contractor"`
	ScopeOfWork     string             `json:"scope_of_work"`
	FinancialInput  json.RawMessage    `json:"financial_input,omitempty"`
	Milestones      []MilestoneRequest `json:"milestones"`
	AllocateAmounts bool               `json:"allocate_amounts"`
	LegalClauses    []string           `json:"legal_clauses"`
}

func (r SaveDraftRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ContractID, validation.By(contractIDRule)),
		validation.Field(&r.Title, validation.Length(0, 200)),
		validation.Field(&r.ProjectRef, validation.Length(0, 100)),
		validation.Field(&r.ScopeOfWork, validation.Length(0, 20000)),
		validation.Field(&r.Client, validation.By(partyFormatRule)),
		validation.Field(&r.Contractor, validation.By(partyFormatRule)),
		validation.Field(&r.Milestones, validation.Length(0, 50)),
		validation.Field(&r.FinancialInput, validation.By(jsonObjectRule)),
	)
}

// SaveDraftResult is returned after each persisted save.
type SaveDraftResult struct {
	ContractID  uuid.UUID       `json:"contract_id"`
	Status      Status          `json:"status"`
	Version     int             `json:"version"`
	Created     bool            `json:"created"`
	Total       decimal.Decimal `json:"total"`
	Warnings    []string        `json:"warnings,omitempty"`
	LastSavedAt time.Time       `json:"last_saved_at"`
}

// MarshalJSON writes the total with two fraction digits so a client echoing
// it back as a financial record is not read as cents.
func (r SaveDraftResult) MarshalJSON() ([]byte, error) {
	type plain SaveDraftResult
	return json.Marshal(struct {
		plain
		Total string `json:"total"`
	}{plain: plain(r), Total: r.Total.StringFixed(2)})
}

// DraftForm is the editable state of a contract, rebuilt for resume.
type DraftForm struct {
	ContractID     uuid.UUID       `json:"contract_id"`
	Status         Status          `json:"status"`
	Title          string          `json:"title"`
	ProjectRef     string          `json:"project_ref,omitempty"`
	Client         PartySnapshot   `json:"client"`
	Contractor     PartySnapshot   `json:"contractor"`
	ScopeOfWork    string          `json:"scope_of_work"`
	FinancialInput json.RawMessage `json:"financial_input,omitempty"`
	Total          decimal.Decimal `json:"total"`
	Warnings       []string        `json:"warnings,omitempty"`
	Milestones     Milestones      `json:"milestones"`
	LegalClauses   []string        `json:"legal_clauses"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	Version        int             `json:"version"`
	LastSavedAt    time.Time       `json:"last_saved_at"`
}

func (f DraftForm) MarshalJSON() ([]byte, error) {
	type plain DraftForm
	return json.Marshal(struct {
		plain
		Total string `json:"total"`
	}{plain: plain(f), Total: f.Total.StringFixed(2)})
}

// ToDraftForm rebuilds the editable form from a persisted contract.
func (c *Contract) ToDraftForm() *DraftForm {
	form := &DraftForm{
		ContractID:   c.ID,
		Status:       c.Status,
		Title:        c.Title,
		ProjectRef:   c.ProjectRef,
		Client:       c.Client,
		Contractor:   c.Contractor,
		ScopeOfWork:  c.ScopeOfWork,
		Total:        c.Financials.Total,
		Milestones:   append(Milestones{}, c.Financials.Milestones...),
		LegalClauses: append([]string{}, c.LegalClauses...),
		ErrorMessage: c.ErrorMessage,
		Version:      c.Version,
		LastSavedAt:  c.LastSavedAt,
	}
	if c.FinancialInput != nil {
		form.FinancialInput = append(json.RawMessage(nil), c.FinancialInput...)
	}
	for _, f := range c.Financials.Flags {
		form.Warnings = append(form.Warnings, f.Message())
	}
	return form
}

// ========================================
// LIFECYCLE DTOs
// ========================================

type CancelRequest struct {
	Reason string `json:"reason"`
}

func (r CancelRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

// SigningLinks are the two per-party links issued at generation.
type SigningLinks struct {
	ContractorLink string `json:"contractor_link"`
	ClientLink     string `json:"client_link"`
}

// GenerateResult reports the state after a generate request.
type GenerateResult struct {
	ContractID  uuid.UUID     `json:"contract_id"`
	Status      Status        `json:"status"`
	DocumentURL *string       `json:"document_url,omitempty"`
	Links       *SigningLinks `json:"links,omitempty"`
	Replayed    bool          `json:"replayed"`
	Warnings    []string      `json:"warnings,omitempty"`
}

type RecordPaymentRequest struct {
	Reference      string          `json:"reference"`
	MilestoneIndex int             `json:"milestone_index"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method,omitempty"`
	ReceivedAt     *time.Time      `json:"received_at,omitempty"`
}

func (r RecordPaymentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reference, validation.Required.Error("payment reference is required"), validation.Length(1, 100)),
		validation.Field(&r.MilestoneIndex, validation.Min(0)),
		validation.Field(&r.Amount, validation.By(positiveDecimalRule)),
		validation.Field(&r.Method, validation.Length(0, 50)),
	)
}

type PaymentResult struct {
	ContractID uuid.UUID       `json:"contract_id"`
	Reference  string          `json:"reference"`
	Duplicate  bool            `json:"duplicate"`
	Paid       decimal.Decimal `json:"paid"`
	Balance    decimal.Decimal `json:"balance"`
}

// ========================================
// SIGNATURE DTOs
// ========================================

// SignatureEvent is what a signature source reports.
type SignatureEvent struct {
	EventID    string    `json:"event_id,omitempty"`
	ContractID uuid.UUID `json:"contract_id"`
	Party      Party     `json:"party"`
	SignedAt   time.Time `json:"signed_at"`
	SignerName string    `json:"signer_name,omitempty"`
}

func (e SignatureEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ContractID, validation.By(requiredUUIDRule)),
		validation.Field(&e.Party, validation.Required, validation.In(PartyContractor, PartyClient)),
		validation.Field(&e.SignerName, validation.Length(0, 200)),
	)
}

// SignRequest is posted from a signing page.
type SignRequest struct {
	SignerName string `json:"signer_name"`
}

func (r SignRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.SignerName, validation.Required, validation.Length(2, 200)),
	)
}

type SignResult struct {
	ContractID uuid.UUID `json:"contract_id"`
	Party      Party     `json:"party"`
	Status     Status    `json:"status"`
	Duplicate  bool      `json:"duplicate"`
	Completed  bool      `json:"completed"`
}

// SigningView is what a signer sees when opening a link.
type SigningView struct {
	ContractID  uuid.UUID       `json:"contract_id"`
	Party       Party           `json:"party"`
	Title       string          `json:"title"`
	Client      PartySnapshot   `json:"client"`
	Contractor  PartySnapshot   `json:"contractor"`
	Total       decimal.Decimal `json:"total"`
	Milestones  Milestones      `json:"milestones"`
	DocumentURL *string         `json:"document_url,omitempty"`
	Signed      bool            `json:"signed"`
}

// ========================================
// DELIVERY DTOs
// ========================================

type SendRequest struct {
	Channels []Channel `json:"channels"`
	Party    Party     `json:"party,omitempty"`
}

func (r SendRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Channels,
			validation.Required.Error("at least one channel is required"),
			validation.Each(validation.In(ChannelEmail, ChannelSMS, ChannelChat).Error("channel must be email, sms or chat")),
		),
		validation.Field(&r.Party, validation.In(PartyContractor, PartyClient)),
	)
}

// ChannelResult is one channel's outcome within a send.
type ChannelResult struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient,omitempty"`
	Outcome   string  `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

type SendResult struct {
	ContractID uuid.UUID       `json:"contract_id"`
	Party      Party           `json:"party"`
	Results    []ChannelResult `json:"results"`
	Sent       int             `json:"sent"`
	Failed     int             `json:"failed"`
}

// ========================================
// QUERY DTOs
// ========================================

type ListQuery struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

// Normalize clamps paging to sane defaults.
func (q *ListQuery) Normalize() {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}
}

// ContractSummary is a list row.
type ContractSummary struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	ClientName       string          `json:"client_name"`
	Status           Status          `json:"status"`
	Total            decimal.Decimal `json:"total"`
	ContractorSigned bool            `json:"contractor_signed"`
	ClientSigned     bool            `json:"client_signed"`
	CreatedAt        time.Time       `json:"created_at"`
	LastSavedAt      time.Time       `json:"last_saved_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// ToSummary builds a list row.
func (c *Contract) ToSummary() ContractSummary {
	return ContractSummary{
		ID:               c.ID,
		Title:            c.Title,
		ClientName:       c.Client.Name,
		Status:           c.Status,
		Total:            c.Financials.Total,
		ContractorSigned: c.Signatures.Contractor.Signed,
		ClientSigned:     c.Signatures.Client.Signed,
		CreatedAt:        c.CreatedAt,
		LastSavedAt:      c.LastSavedAt,
		CompletedAt:      c.CompletedAt,
	}
}

type ContractList struct {
	View  View              `json:"view"`
	Items []ContractSummary `json:"items"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

// ContractDetail is the full aggregate with its audit trail.
type ContractDetail struct {
	*Contract
	Paid        decimal.Decimal    `json:"paid"`
	Balance     decimal.Decimal    `json:"balance"`
	DeliveryLog []DeliveryLogEntry `json:"delivery_log"`
	Events      []ContractEvent    `json:"events"`
}

// ========================================
// RULES
// ========================================

func requiredUUIDRule(value interface{}) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return errors.New("cannot be blank")
	}
	return nil
}

func percentageRule(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if d.IsNegative() || d.GreaterThan(hundred) {
		return errors.New("percentage must be between 0 and 100")
	}
	return nil
}

func positiveDecimalRule(value interface{}) error {
	d, _ := value.(decimal.Decimal)
	if !d.IsPositive() {
		return errors.New("amount must be positive")
	}
	return nil
}

func nonNegativeDecimalPtr(value interface{}) error {
	d, _ := value.(*decimal.Decimal)
	if d != nil && d.IsNegative() {
		return errors.New("amount must not be negative")
	}
	return nil
}

func partyFormatRule(value interface{}) error {
	p, _ := value.(PartySnapshot)
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Length(0, 200)),
		validation.Field(&p.Email, validation.When(p.Email != "", is.EmailFormat.Error("invalid email format"))),
		validation.Field(&p.Phone, validation.Length(0, 32)),
		validation.Field(&p.Address, validation.Length(0, 500)),
	)
}

func contractIDRule(value interface{}) error {
	if id, ok := value.(*uuid.UUID); ok && id != nil && *id == uuid.Nil {
		return errors.New("contract id must not be the nil uuid")
	}
	return nil
}

func jsonObjectRule(value interface{}) error {
	raw, _ := value.(json.RawMessage)
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errors.New("financial input must be a JSON object")
	}
	return nil
}
