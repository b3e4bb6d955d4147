package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
)

type sessionKey struct {
	owner   uuid.UUID
	session string
}

// SessionStatus is what the editor polls to render the save indicator.
type SessionStatus struct {
	State      SaveState  `json:"state"`
	ContractID *uuid.UUID `json:"contract_id,omitempty"`
	Pending    bool       `json:"pending"`
	Error      string     `json:"error,omitempty"`
}

// AutoSaveRegistry keeps one AutoSaver per (owner, edit session).
type AutoSaveRegistry struct {
	drafts  DraftService
	delay   time.Duration
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[sessionKey]*AutoSaver
}

func NewAutoSaveRegistry(drafts DraftService, delay, idleTTL time.Duration) *AutoSaveRegistry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &AutoSaveRegistry{
		drafts:   drafts,
		delay:    delay,
		idleTTL:  idleTTL,
		sessions: make(map[sessionKey]*AutoSaver),
	}
}

func (r *AutoSaveRegistry) saver(owner uuid.UUID, session string) *AutoSaver {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{owner: owner, session: session}
	s, ok := r.sessions[key]
	if !ok {
		s = NewAutoSaver(r.drafts, owner, r.delay)
		r.sessions[key] = s
	}
	return s
}

func (r *AutoSaveRegistry) lookup(owner uuid.UUID, session string) (*AutoSaver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey{owner: owner, session: session}]
	return s, ok
}

// Schedule queues a debounced save for the session.
func (r *AutoSaveRegistry) Schedule(owner uuid.UUID, session string, req model.SaveDraftRequest) (SessionStatus, error) {
	s := r.saver(owner, session)
	if req.ContractID != nil {
		s.Resume(*req.ContractID)
	}
	if err := s.Schedule(req); err != nil {
		return SessionStatus{}, err
	}
	return statusOf(s), nil
}

// Flush forces the session's pending save.
func (r *AutoSaveRegistry) Flush(ctx context.Context, owner uuid.UUID, session string) (*model.SaveDraftResult, error) {
	s, ok := r.lookup(owner, session)
	if !ok {
		return nil, nil
	}
	return s.Flush(ctx)
}

func (r *AutoSaveRegistry) Status(owner uuid.UUID, session string) (SessionStatus, bool) {
	s, ok := r.lookup(owner, session)
	if !ok {
		return SessionStatus{State: SaveStateIdle}, false
	}
	return statusOf(s), true
}

// Close ends a session, dropping an edit that has not been saved yet.
func (r *AutoSaveRegistry) Close(owner uuid.UUID, session string) {
	r.mu.Lock()
	key := sessionKey{owner: owner, session: session}
	s, ok := r.sessions[key]
	delete(r.sessions, key)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}

// EvictIdle flushes and closes sessions idle for longer than the TTL.
func (r *AutoSaveRegistry) EvictIdle(ctx context.Context, now time.Time) int {
	r.mu.Lock()
	var stale []*AutoSaver
	for key, s := range r.sessions {
		if now.Sub(s.idleSince()) > r.idleTTL {
			stale = append(stale, s)
			delete(r.sessions, key)
		}
	}
	r.mu.Unlock()

	for _, s := range stale {
		if _, err := s.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("[AutoSaveRegistry] Flush on eviction failed")
		}
		s.Close()
	}
	return len(stale)
}

// Run evicts idle sessions until ctx is done.
func (r *AutoSaveRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.EvictIdle(ctx, now); n > 0 {
				log.Info().Int("evicted", n).Msg("[AutoSaveRegistry] Idle sessions evicted")
			}
		}
	}
}

// Shutdown flushes every pending edit and closes all sessions.
func (r *AutoSaveRegistry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*AutoSaver, 0, len(r.sessions))
	for key, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	for _, s := range all {
		if s.Pending() {
			if _, err := s.Flush(ctx); err != nil {
				log.Warn().Err(err).Msg("[AutoSaveRegistry] Flush on shutdown failed")
			}
		}
		s.Close()
	}
}

func statusOf(s *AutoSaver) SessionStatus {
	st := SessionStatus{State: s.State(), Pending: s.Pending()}
	if id, ok := s.ContractID(); ok {
		st.ContractID = &id
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
