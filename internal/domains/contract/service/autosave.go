package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"owlfenc-backend/internal/domains/contract/model"
)

const DefaultAutoSaveDelay = 2 * time.Second

var ErrAutoSaverClosed = errors.New("autosave session is closed")

// ================================================
// DEBOUNCER
// ================================================

// Debouncer runs the most recently triggered action once the quiet window has
// passed without another trigger.
type Debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	gen   uint64
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger restarts the quiet window with fn as the pending action.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		// a timer that fired while being replaced must not run
		if gen != d.gen {
			d.mu.Unlock()
			return
		}
		d.timer = nil
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending action. It reports whether one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	if d.timer == nil {
		return false
	}
	d.timer.Stop()
	d.timer = nil
	return true
}

// Pending reports whether an action is waiting for the quiet window.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// ================================================
// AUTOSAVER
// ================================================

// SaveState is the indicator shown next to the editor.
type SaveState string

const (
	SaveStateIdle   SaveState = "idle"
	SaveStateSaving SaveState = "saving"
	SaveStateSaved  SaveState = "saved"
	SaveStateError  SaveState = "error"
)

// AutoSaver persists one editing session. Rapid edits coalesce into a single
// save, saves never overlap, and the id minted by the first save is reused by
// every later one.
type AutoSaver struct {
	drafts  DraftService
	ownerID uuid.UUID
	timeout time.Duration

	debouncer *Debouncer
	saveMu    sync.Mutex // serializes saves
	inflight  sync.WaitGroup

	mu           sync.Mutex
	pending      *model.SaveDraftRequest
	contractID   *uuid.UUID
	state        SaveState
	lastErr      error
	lastResult   *model.SaveDraftResult
	lastActivity time.Time
	closed       bool
}

func NewAutoSaver(drafts DraftService, ownerID uuid.UUID, delay time.Duration) *AutoSaver {
	if delay <= 0 {
		delay = DefaultAutoSaveDelay
	}
	return &AutoSaver{
		drafts:       drafts,
		ownerID:      ownerID,
		timeout:      30 * time.Second,
		debouncer:    NewDebouncer(delay),
		state:        SaveStateIdle,
		lastActivity: time.Now(),
	}
}

// Resume binds the session to an existing contract so the next save updates it.
func (a *AutoSaver) Resume(contractID uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.contractID == nil {
		a.contractID = &contractID
	}
}

// Schedule replaces the pending payload and restarts the quiet window.
func (a *AutoSaver) Schedule(req model.SaveDraftRequest) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrAutoSaverClosed
	}
	a.pending = &req
	a.lastActivity = time.Now()
	a.mu.Unlock()

	a.debouncer.Trigger(a.fire)
	return nil
}

func (a *AutoSaver) fire() {
	if !a.begin() {
		return
	}
	defer a.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if _, err := a.save(ctx); err != nil {
		log.Warn().Err(err).Str("owner_id", a.ownerID.String()).Msg("[AutoSaver] Background save failed")
	}
}

// begin registers an in-flight save unless the saver is closed.
func (a *AutoSaver) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.inflight.Add(1)
	return true
}

// Flush saves the pending payload now. With nothing pending it returns the
// last result.
func (a *AutoSaver) Flush(ctx context.Context) (*model.SaveDraftResult, error) {
	a.debouncer.Cancel()
	if !a.begin() {
		return nil, ErrAutoSaverClosed
	}
	defer a.inflight.Done()

	return a.save(ctx)
}

func (a *AutoSaver) save(ctx context.Context) (*model.SaveDraftResult, error) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	req := a.pending
	if req == nil {
		result, err := a.lastResult, a.lastErr
		a.mu.Unlock()
		return result, err
	}
	a.pending = nil
	if a.contractID != nil {
		id := *a.contractID
		req.ContractID = &id
	}
	a.state = SaveStateSaving
	a.mu.Unlock()

	result, err := a.drafts.Save(ctx, a.ownerID, *req)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.state = SaveStateError
		a.lastErr = err
		// keep the payload for the next attempt unless a newer edit arrived
		if a.pending == nil && !a.closed {
			a.pending = req
		}
		return nil, err
	}

	id := result.ContractID
	a.contractID = &id
	a.state = SaveStateSaved
	a.lastErr = nil
	a.lastResult = result
	return result, nil
}

// Close cancels a save that has not fired yet and waits for one in flight.
func (a *AutoSaver) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.debouncer.Cancel()
	a.inflight.Wait()
}

func (a *AutoSaver) State() SaveState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err is the error of the last failed save, cleared by the next success.
func (a *AutoSaver) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// ContractID reports the id minted or resumed for this session.
func (a *AutoSaver) ContractID() (uuid.UUID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.contractID == nil {
		return uuid.Nil, false
	}
	return *a.contractID, true
}

// Pending reports whether an edit is waiting to be saved.
func (a *AutoSaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending != nil
}

func (a *AutoSaver) idleSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastActivity
}
