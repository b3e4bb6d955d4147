package model

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusProcessing, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusAwaitingSignatures, false},
		{StatusDraft, StatusCompleted, false},
		{StatusProcessing, StatusAwaitingSignatures, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusError, StatusProcessing, true},
		{StatusError, StatusCancelled, true},
		{StatusError, StatusDraft, false},
		{StatusAwaitingSignatures, StatusCompleted, true},
		{StatusAwaitingSignatures, StatusCancelled, true},
		{StatusAwaitingSignatures, StatusDraft, false},
		{StatusCompleted, StatusDraft, false},
		{StatusCompleted, StatusAwaitingSignatures, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusDraft, false},
		{StatusCancelled, StatusProcessing, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStatus_TerminalStatesHaveNoExits(t *testing.T) {
	all := []Status{StatusDraft, StatusProcessing, StatusAwaitingSignatures, StatusCompleted, StatusCancelled, StatusError}
	for _, terminal := range []Status{StatusCompleted, StatusCancelled} {
		require.True(t, terminal.IsTerminal())
		for _, next := range all {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}

func TestStatus_TransitionsNeverMoveBackward(t *testing.T) {
	for from, targets := range validTransitions {
		for _, to := range targets {
			assert.GreaterOrEqual(t, to.Rank(), from.Rank(), "%s -> %s", from, to)
		}
	}
}

func TestContract_Transition(t *testing.T) {
	now := time.Now()
	c := &Contract{ID: uuid.New(), Status: StatusDraft}

	require.NoError(t, c.Transition(StatusProcessing, now))
	require.NotNil(t, c.ProcessingStartedAt)
	require.NoError(t, c.Transition(StatusAwaitingSignatures, now))
	require.NoError(t, c.Transition(StatusCompleted, now))
	require.NotNil(t, c.CompletedAt)

	err := c.Transition(StatusDraft, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var cerr *ContractError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, ErrCodeInvalidTransition, cerr.Code)
	assert.Equal(t, StatusCompleted, c.Status)
}

func TestParseLegacyStatus(t *testing.T) {
	tests := map[string]Status{
		"approved":            StatusAwaitingSignatures,
		"client_approved":     StatusAwaitingSignatures,
		"Sent":                StatusAwaitingSignatures,
		"sent-for-signature":  StatusAwaitingSignatures,
		"signed":              StatusCompleted,
		"void":                StatusCancelled,
		"canceled":            StatusCancelled,
		" draft ":             StatusDraft,
		"awaiting_signatures": StatusAwaitingSignatures,
	}
	for raw, want := range tests {
		got, err := ParseLegacyStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseLegacyStatus("archived")
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestView_Statuses(t *testing.T) {
	assert.ElementsMatch(t, []Status{StatusDraft, StatusProcessing, StatusError}, ViewDrafts.Statuses())
	assert.Equal(t, []Status{StatusAwaitingSignatures}, ViewInProgress.Statuses())
	assert.Equal(t, []Status{StatusCompleted}, ViewCompleted.Statuses())
	assert.False(t, View("archived").IsValid())
}
