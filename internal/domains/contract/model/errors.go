package model

import (
	"errors"
	"strings"
)

// =====================================================
// CUSTOM ERROR CODES
// =====================================================
const (
	ErrCodeContractNotFound     = "CTR001"
	ErrCodeNotEditable          = "CTR002"
	ErrCodeInvalidTransition    = "CTR003"
	ErrCodeValidation           = "CTR004"
	ErrCodeVersionMismatch      = "CTR005"
	ErrCodeInvalidStatus        = "CTR006"
	ErrCodeSigningLinkInvalid   = "CTR007"
	ErrCodeAllChannelsFailed    = "CTR008"
	ErrCodeUnknownChannel       = "CTR009"
	ErrCodeMissingRecipient     = "CTR010"
	ErrCodeNotAwaitingSignature = "CTR011"
	ErrCodeAlreadySigned        = "CTR012"
	ErrCodePersistence          = "CTR013"
	ErrCodeGenerationFailed     = "CTR014"
	ErrCodeUnknownClause        = "CTR015"
	ErrCodeInvalidWebhook       = "CTR016"
	ErrCodeUnauthorized         = "CTR017"
	ErrCodePaymentRejected      = "CTR018"
)

// =====================================================
// ERROR DEFINITIONS
// =====================================================
var (
	ErrContractNotFound     = errors.New("contract not found")
	ErrContractNotEditable  = errors.New("contract is no longer editable")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrValidation           = errors.New("validation failed")
	ErrVersionMismatch      = errors.New("version mismatch - concurrent modification detected")
	ErrInvalidStatus        = errors.New("invalid contract status")
	ErrSigningLinkInvalid   = errors.New("signing link is invalid or no longer active")
	ErrAllChannelsFailed    = errors.New("delivery failed on every channel")
	ErrUnknownChannel       = errors.New("unknown delivery channel")
	ErrMissingRecipient     = errors.New("recipient missing for channel")
	ErrNotAwaitingSignature = errors.New("contract is not awaiting signatures")
	ErrPartyAlreadySigned   = errors.New("party has already signed")
	ErrPersistence          = errors.New("contract could not be saved")
	ErrGenerationFailed     = errors.New("contract document generation failed")
	ErrUnknownClause        = errors.New("unknown legal clause")
	ErrInvalidWebhook       = errors.New("invalid webhook signature")
	ErrUnauthorized         = errors.New("unauthorized access")
	ErrPaymentRejected      = errors.New("payment cannot be recorded")
)

// =====================================================
// CUSTOM ERROR TYPE
// =====================================================
type ContractError struct {
	Code    string
	Message string
	Err     error
}

func (e *ContractError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// NewContractError creates a new ContractError
func NewContractError(code, message string, err error) *ContractError {
	return &ContractError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// FieldError names one missing or malformed field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError blocks a transition until the listed fields are fixed.
// It unwraps to ErrValidation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Add appends a field problem.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field problems were collected.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}
