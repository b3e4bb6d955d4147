package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/domains/contract/money"
	"owlfenc-backend/internal/domains/contract/repository"
	"owlfenc-backend/pkg/jwt"
)

const testBaseURL = "https://sign.test"

// ================================================
// FAKES
// ================================================

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *memCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(c.data, k)
		}
	}
	return nil
}

func (c *memCache) Ping(ctx context.Context) error { return nil }

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

type sentMessage struct {
	Recipient string
	Msg       Message
}

type fakeProvider struct {
	mu   sync.Mutex
	err  error
	sent []sentMessage
}

func (p *fakeProvider) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, sentMessage{Recipient: recipient, Msg: msg})
	return fmt.Sprintf("msg-%d", len(p.sent)), nil
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

type fakeStore struct {
	mu      sync.Mutex
	err     error
	uploads map[string][]byte
}

func (s *fakeStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	if s.uploads == nil {
		s.uploads = make(map[string][]byte)
	}
	s.uploads[key] = data
	return "https://docs.test/" + key, nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type countingNotifier struct {
	calls atomic.Int32
}

func (n *countingNotifier) NotifyCompleted(ctx context.Context, contractID uuid.UUID) error {
	n.calls.Add(1)
	return nil
}

// ================================================
// FIXTURE
// ================================================

type fixture struct {
	owner    uuid.UUID
	repo     repository.ContractRepository
	cache    *memCache
	store    *fakeStore
	notifier *countingNotifier
	email    *fakeProvider
	sms      *fakeProvider
	chat     *fakeProvider

	drafts     DraftService
	lifecycle  LifecycleService
	signatures SignatureService
	delivery   DeliveryService
	query      QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		owner:    uuid.New(),
		repo:     repository.NewMemoryContractRepository(),
		cache:    newMemCache(),
		store:    &fakeStore{},
		notifier: &countingNotifier{},
		email:    &fakeProvider{},
		sms:      &fakeProvider{},
		chat:     &fakeProvider{},
	}

	f.drafts = NewDraftService(f.repo, money.Default(), f.cache)
	f.signatures = NewSignatureService(f.repo, jwt.NewManager("test-link-secret"), f.notifier, f.cache, SignatureConfig{
		BaseURL: testBaseURL + "/",
	})
	f.lifecycle = NewLifecycleService(f.repo, NewSnapshotRenderer(), f.store, f.signatures, f.cache)
	f.delivery = NewDeliveryService(f.repo, map[model.Channel]Provider{
		model.ChannelEmail: f.email,
		model.ChannelSMS:   f.sms,
		model.ChannelChat:  f.chat,
	})
	f.query = NewQueryService(f.repo, f.cache)
	return f
}

func validDraft() model.SaveDraftRequest {
	return model.SaveDraftRequest{
		Title:          "Backyard cedar fence",
		ProjectRef:     "EST-1042",
		Client:         model.PartySnapshot{Name: "Dana Client", Email: "dana@example.com", Phone: "+15550001111"},
		Contractor:     model.PartySnapshot{Name: "Owl Fence Co", Email: "office@owlfence.test", Phone: "+15550002222"},
		ScopeOfWork:    "Install 120ft of 6ft cedar fence with one gate.",
		FinancialInput: json.RawMessage(`{"summary":{"finalTotal":"12000.00"}}`),
		Milestones: []model.MilestoneRequest{
			{Description: "Deposit", Percentage: decPct(50)},
			{Description: "On completion", Percentage: decPct(50)},
		},
		LegalClauses: []string{"warranty"},
	}
}

// saveDraft persists validDraft with edits applied and returns its id.
func (f *fixture) saveDraft(t *testing.T, edit func(*model.SaveDraftRequest)) uuid.UUID {
	t.Helper()
	req := validDraft()
	if edit != nil {
		edit(&req)
	}
	res, err := f.drafts.Save(context.Background(), f.owner, req)
	require.NoError(t, err)
	return res.ContractID
}

// generated returns a contract awaiting signatures and its two link tokens.
func (f *fixture) generated(t *testing.T) (uuid.UUID, string, string) {
	t.Helper()
	id := f.saveDraft(t, nil)
	res, err := f.lifecycle.Generate(context.Background(), f.owner, id)
	require.NoError(t, err)
	require.Equal(t, model.StatusAwaitingSignatures, res.Status)
	require.NotNil(t, res.Links)
	return id, tokenOf(t, res.Links.ContractorLink), tokenOf(t, res.Links.ClientLink)
}

// completed returns a contract both parties have signed.
func (f *fixture) completed(t *testing.T) uuid.UUID {
	t.Helper()
	id, contractorToken, clientToken := f.generated(t)
	_, err := f.signatures.SignWithLink(context.Background(), contractorToken, model.SignRequest{SignerName: "Owl Fence Co"})
	require.NoError(t, err)
	res, err := f.signatures.SignWithLink(context.Background(), clientToken, model.SignRequest{SignerName: "Dana Client"})
	require.NoError(t, err)
	require.True(t, res.Completed)
	return id
}

func (f *fixture) events(t *testing.T, id uuid.UUID, kind model.EventKind) []model.ContractEvent {
	t.Helper()
	all, err := f.repo.ListEvents(context.Background(), id)
	require.NoError(t, err)
	var out []model.ContractEvent
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func tokenOf(t *testing.T, link string) string {
	t.Helper()
	prefix := testBaseURL + "/sign/"
	require.True(t, strings.HasPrefix(link, prefix), "unexpected link %s", link)
	return strings.TrimPrefix(link, prefix)
}

var errProviderDown = errors.New("provider unavailable")

func decPct(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
