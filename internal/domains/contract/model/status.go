package model

import "strings"

// Status is the single lifecycle vocabulary for a contract.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusProcessing         Status = "processing"
	StatusAwaitingSignatures Status = "awaiting_signatures"
	StatusCompleted          Status = "completed"
	StatusCancelled          Status = "cancelled"
	StatusError              Status = "error"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusProcessing, StatusAwaitingSignatures,
		StatusCompleted, StatusCancelled, StatusError:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsEditable reports whether draft fields may still be saved.
func (s Status) IsEditable() bool {
	return s == "" || s == StatusDraft || s == StatusError
}

var validTransitions = map[Status][]Status{
	StatusDraft: {
		StatusProcessing,
		StatusCancelled,
	},
	StatusProcessing: {
		StatusAwaitingSignatures,
		StatusError,
		StatusCancelled,
	},
	StatusError: {
		StatusProcessing,
		StatusCancelled,
	},
	StatusAwaitingSignatures: {
		StatusCompleted,
		StatusCancelled,
	},
}

// CanTransitionTo checks if status can move to next
func (s Status) CanTransitionTo(next Status) bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return false
	}

	for _, candidate := range allowed {
		if candidate == next {
			return true
		}
	}
	return false
}

// Rank orders statuses along the forward path. Side states share the rank of
// the step they branch from.
func (s Status) Rank() int {
	switch s {
	case StatusDraft:
		return 0
	case StatusProcessing, StatusError:
		return 1
	case StatusAwaitingSignatures:
		return 2
	case StatusCompleted, StatusCancelled:
		return 3
	}
	return -1
}

// legacyStatuses maps vocabularies found in older records and upstream
// systems onto the closed enum.
var legacyStatuses = map[string]Status{
	"draft":               StatusDraft,
	"new":                 StatusDraft,
	"in_progress":         StatusDraft,
	"pending":             StatusDraft,
	"generating":          StatusProcessing,
	"processing":          StatusProcessing,
	"approved":            StatusAwaitingSignatures,
	"client_approved":     StatusAwaitingSignatures,
	"sent":                StatusAwaitingSignatures,
	"sent_for_signature":  StatusAwaitingSignatures,
	"awaiting_signatures": StatusAwaitingSignatures,
	"awaiting_signature":  StatusAwaitingSignatures,
	"partially_signed":    StatusAwaitingSignatures,
	"signed":              StatusCompleted,
	"both_signed":         StatusCompleted,
	"executed":            StatusCompleted,
	"completed":           StatusCompleted,
	"cancelled":           StatusCancelled,
	"canceled":            StatusCancelled,
	"void":                StatusCancelled,
	"voided":              StatusCancelled,
	"error":               StatusError,
	"failed":              StatusError,
}

// ParseLegacyStatus maps a legacy or synonym status string onto Status.
// It is meant for ingestion boundaries only.
func ParseLegacyStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)

	if s, ok := legacyStatuses[key]; ok {
		return s, nil
	}
	return "", NewContractError(ErrCodeInvalidStatus, "unknown contract status "+raw, ErrInvalidStatus)
}

// View names a read projection over statuses.
type View string

const (
	ViewDrafts     View = "drafts"
	ViewInProgress View = "in-progress"
	ViewCompleted  View = "completed"
)

func (v View) IsValid() bool {
	_, ok := viewStatuses[v]
	return ok
}

var viewStatuses = map[View][]Status{
	ViewDrafts:     {StatusDraft, StatusProcessing, StatusError},
	ViewInProgress: {StatusAwaitingSignatures},
	ViewCompleted:  {StatusCompleted},
}

// Statuses returns the statuses a view selects.
func (v View) Statuses() []Status {
	out := make([]Status, len(viewStatuses[v]))
	copy(out, viewStatuses[v])
	return out
}
