package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owlfenc-backend/internal/domains/contract/model"
)

func allChannels() []model.Channel {
	return []model.Channel{model.ChannelEmail, model.ChannelSMS, model.ChannelChat}
}

func TestSend_PartialFailureIsReportedPerChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, clientToken := f.generated(t)
	f.sms.setErr(errProviderDown)

	res, err := f.delivery.Send(ctx, f.owner, id, model.SendRequest{Channels: allChannels()})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, model.PartyClient, res.Party)

	byChannel := map[model.Channel]model.ChannelResult{}
	for _, r := range res.Results {
		byChannel[r.Channel] = r
	}
	assert.Equal(t, model.OutcomeSent, byChannel[model.ChannelEmail].Outcome)
	assert.Equal(t, model.OutcomeSent, byChannel[model.ChannelChat].Outcome)
	assert.True(t, strings.HasPrefix(byChannel[model.ChannelSMS].Outcome, "failed:"))
	assert.Contains(t, byChannel[model.ChannelSMS].Error, errProviderDown.Error())

	require.Equal(t, 1, f.email.count())
	sent := f.email.sent[0]
	assert.Equal(t, "dana@example.com", sent.Recipient)
	assert.Equal(t, model.PurposeSigningInvite, sent.Msg.Purpose)
	assert.Equal(t, clientToken, tokenOf(t, sent.Msg.Link))
	assert.Contains(t, sent.Msg.Body, sent.Msg.Link)

	entries, err := f.repo.ListDeliveryLog(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	seqs := map[int]bool{}
	for _, e := range entries {
		seqs[e.Seq] = true
		if e.Sent() {
			assert.NotNil(t, e.ProviderMessageID)
		}
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seqs)
}

func TestSend_AllChannelsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, _ := f.generated(t)
	f.email.setErr(errProviderDown)
	f.sms.setErr(errProviderDown)
	f.chat.setErr(errProviderDown)

	res, err := f.delivery.Send(ctx, f.owner, id, model.SendRequest{Channels: allChannels()})
	require.ErrorIs(t, err, model.ErrAllChannelsFailed)
	require.NotNil(t, res)
	assert.Equal(t, 3, res.Failed)

	entries, err := f.repo.ListDeliveryLog(ctx, id)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	c, err := f.repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingSignatures, c.Status)
}

func TestSend_MissingRecipientFailsThatChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.saveDraft(t, func(r *model.SaveDraftRequest) { r.Client.Phone = "" })
	_, err := f.lifecycle.Generate(ctx, f.owner, id)
	require.NoError(t, err)

	res, err := f.delivery.Send(ctx, f.owner, id, model.SendRequest{Channels: []model.Channel{model.ChannelSMS}})
	require.ErrorIs(t, err, model.ErrAllChannelsFailed)
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Error, model.ErrMissingRecipient.Error())
	assert.Equal(t, 0, f.sms.count())
}

func TestSend_DuplicateChannelsSendOnce(t *testing.T) {
	f := newFixture(t)
	id, _, _ := f.generated(t)

	res, err := f.delivery.Send(context.Background(), f.owner, id, model.SendRequest{
		Channels: []model.Channel{model.ChannelEmail, model.ChannelEmail},
	})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	assert.Equal(t, 1, f.email.count())
}

func TestSend_ToContractor(t *testing.T) {
	f := newFixture(t)
	id, contractorToken, _ := f.generated(t)

	_, err := f.delivery.Send(context.Background(), f.owner, id, model.SendRequest{
		Channels: []model.Channel{model.ChannelChat},
		Party:    model.PartyContractor,
	})
	require.NoError(t, err)
	require.Equal(t, 1, f.chat.count())
	assert.Equal(t, "+15550002222", f.chat.sent[0].Recipient)
	assert.Equal(t, contractorToken, tokenOf(t, f.chat.sent[0].Msg.Link))
}

func TestSend_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draftID := f.saveDraft(t, nil)
	_, err := f.delivery.Send(ctx, f.owner, draftID, model.SendRequest{Channels: allChannels()})
	assert.ErrorIs(t, err, model.ErrNotAwaitingSignature)

	completedID := f.completed(t)
	_, err = f.delivery.Send(ctx, f.owner, completedID, model.SendRequest{Channels: allChannels()})
	assert.ErrorIs(t, err, model.ErrNotAwaitingSignature)

	_, err = f.delivery.Send(ctx, f.owner, draftID, model.SendRequest{})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = f.delivery.Send(ctx, f.owner, draftID, model.SendRequest{Channels: []model.Channel{"fax"}})
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Equal(t, 0, f.email.count()+f.sms.count()+f.chat.count())
}

func TestSend_UnconfiguredProviderFails(t *testing.T) {
	f := newFixture(t)
	id, _, _ := f.generated(t)
	emailOnly := NewDeliveryService(f.repo, map[model.Channel]Provider{model.ChannelEmail: f.email})

	res, err := emailOnly.Send(context.Background(), f.owner, id, model.SendRequest{
		Channels: []model.Channel{model.ChannelEmail, model.ChannelChat},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)
	for _, r := range res.Results {
		if r.Channel == model.ChannelChat {
			assert.Contains(t, r.Error, model.ErrUnknownChannel.Error())
		}
	}
}

func TestSend_ResendAppendsEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _, _ := f.generated(t)
	req := model.SendRequest{Channels: []model.Channel{model.ChannelEmail}}

	_, err := f.delivery.Send(ctx, f.owner, id, req)
	require.NoError(t, err)
	_, err = f.delivery.Send(ctx, f.owner, id, req)
	require.NoError(t, err)

	entries, err := f.repo.ListDeliveryLog(ctx, id)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, 2, entries[1].Seq)
	assert.Equal(t, 2, f.email.count())
}

// ================================================
// COMPLETION NOTICE
// ================================================

func TestSendCompletionNotice_OncePerParty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.completed(t)

	res, err := f.delivery.SendCompletionNotice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, f.email.count())
	assert.Equal(t, model.PurposeCompletionNotice, f.email.sent[0].Msg.Purpose)
	assert.True(t, strings.HasPrefix(f.email.sent[0].Msg.Link, "https://docs.test/"))

	res, err = f.delivery.SendCompletionNotice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 2, f.email.count())
}

func TestSendCompletionNotice_RetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.completed(t)

	f.email.setErr(errProviderDown)
	_, err := f.delivery.SendCompletionNotice(ctx, id)
	require.ErrorIs(t, err, model.ErrAllChannelsFailed)

	f.email.setErr(nil)
	res, err := f.delivery.SendCompletionNotice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
}

func TestSendCompletionNotice_NoEmailIsNotRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.saveDraft(t, func(r *model.SaveDraftRequest) { r.Client.Email = "" })
	res, err := f.lifecycle.Generate(ctx, f.owner, id)
	require.NoError(t, err)
	for _, link := range []string{res.Links.ContractorLink, res.Links.ClientLink} {
		_, err := f.signatures.SignWithLink(ctx, tokenOf(t, link), model.SignRequest{SignerName: "Signer"})
		require.NoError(t, err)
	}

	notice, err := f.delivery.SendCompletionNotice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, notice.Sent)
	assert.Equal(t, 1, notice.Failed)
}

func TestSendCompletionNotice_SkipsOpenContracts(t *testing.T) {
	f := newFixture(t)
	id, _, _ := f.generated(t)

	res, err := f.delivery.SendCompletionNotice(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Equal(t, 0, f.email.count())
}

func TestSweepCompletionNotices_SendsMissedNotices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.completed(t)
	// the fixture notifier only counts, so no notice went out
	require.Equal(t, 0, f.email.count())

	delivered, err := f.delivery.SweepCompletionNotices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered, "inside the grace period the queue still owns the notice")

	f.delivery.(*deliveryService).now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	delivered, err = f.delivery.SweepCompletionNotices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 2, f.email.count())
	assert.Equal(t, id, f.email.sent[0].Msg.ContractID)

	delivered, err = f.delivery.SweepCompletionNotices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 2, f.email.count())
}

func TestSweepCompletionNotices_LeavesAttemptedNoticesToRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.completed(t)

	f.email.setErr(errProviderDown)
	_, err := f.delivery.SendCompletionNotice(ctx, id)
	require.ErrorIs(t, err, model.ErrAllChannelsFailed)
	f.email.setErr(nil)

	f.delivery.(*deliveryService).now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	delivered, err := f.delivery.SweepCompletionNotices(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, f.email.count())
}
