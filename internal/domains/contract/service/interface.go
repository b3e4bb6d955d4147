package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"owlfenc-backend/internal/domains/contract/model"
)

// ================================================
// SERVICE INTERFACES
// ================================================

type DraftService interface {
	// Save inserts a new draft when req.ContractID is nil and upserts by
	// (id, owner) otherwise.
	Save(ctx context.Context, ownerID uuid.UUID, req model.SaveDraftRequest) (*model.SaveDraftResult, error)
	Load(ctx context.Context, ownerID, contractID uuid.UUID) (*model.DraftForm, error)
}

type LifecycleService interface {
	Generate(ctx context.Context, ownerID, contractID uuid.UUID) (*model.GenerateResult, error)
	Cancel(ctx context.Context, ownerID, contractID uuid.UUID, reason string) (*model.Contract, error)
	RecordPayment(ctx context.Context, ownerID, contractID uuid.UUID, req model.RecordPaymentRequest) (*model.PaymentResult, error)

	// FailStaleProcessing moves contracts stuck in processing longer than
	// olderThan to error. Returns how many were moved.
	FailStaleProcessing(ctx context.Context, olderThan time.Duration) (int, error)
}

type SignatureService interface {
	// Initiate issues both signing links and moves a processing contract to
	// awaiting_signatures.
	Initiate(ctx context.Context, contractID uuid.UUID) (*model.SigningLinks, error)

	ResolveLink(ctx context.Context, token string) (*model.SigningView, error)
	SignWithLink(ctx context.Context, token string, req model.SignRequest) (*model.SignResult, error)
	RecordSignature(ctx context.Context, event model.SignatureEvent) (*model.SignResult, error)
	ReissueLink(ctx context.Context, ownerID, contractID uuid.UUID, party model.Party) (string, error)
}

type DeliveryService interface {
	Send(ctx context.Context, ownerID, contractID uuid.UUID, req model.SendRequest) (*model.SendResult, error)

	// SendCompletionNotice emails both parties once a contract completes.
	SendCompletionNotice(ctx context.Context, contractID uuid.UUID) (*model.SendResult, error)

	// SweepCompletionNotices sends the notice for contracts completed more than
	// grace ago that never got one, e.g. because the enqueue failed. Returns
	// how many were delivered.
	SweepCompletionNotices(ctx context.Context, grace time.Duration) (int, error)
}

type QueryService interface {
	List(ctx context.Context, ownerID uuid.UUID, view model.View, q model.ListQuery) (*model.ContractList, error)
	ListDrafts(ctx context.Context, ownerID uuid.UUID, q model.ListQuery) (*model.ContractList, error)
	ListInProgress(ctx context.Context, ownerID uuid.UUID, q model.ListQuery) (*model.ContractList, error)
	ListCompleted(ctx context.Context, ownerID uuid.UUID, q model.ListQuery) (*model.ContractList, error)
	Get(ctx context.Context, ownerID, contractID uuid.UUID) (*model.ContractDetail, error)
	ExportAudit(ctx context.Context, ownerID, contractID uuid.UUID) ([]byte, error)
}

// ================================================
// COLLABORATOR INTERFACES (External Services)
// ================================================

// Message is the channel-neutral content handed to a provider.
type Message struct {
	ContractID uuid.UUID
	Party      model.Party
	Purpose    string
	Subject    string
	Body       string
	Link       string
}

// Provider delivers a message on one channel.
type Provider interface {
	Send(ctx context.Context, recipient string, msg Message) (messageID string, err error)
}

// DocumentStore persists rendered contract documents.
type DocumentStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
}

// Renderer produces the frozen document for a contract.
type Renderer interface {
	Render(c *model.Contract, at time.Time) (data []byte, contentType string, err error)
}

// CompletionNotifier is told once, by the caller that completed the contract.
type CompletionNotifier interface {
	NotifyCompleted(ctx context.Context, contractID uuid.UUID) error
}
