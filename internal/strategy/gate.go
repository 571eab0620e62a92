// Package strategy holds extracted drafts until the user confirms them and
// turns confirmed drafts into persisted trading strategies.
package strategy

import (
	"errors"
	"sync"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

var (
	// ErrNoPendingDraft is returned when confirming or discarding with nothing held.
	ErrNoPendingDraft = errors.New("no pending strategy draft")
	// ErrNotAcknowledged is returned when confirmation lacks the user's explicit acknowledgement.
	ErrNotAcknowledged = errors.New("strategy draft confirmation requires acknowledgement")
)

// GateState is the DraftGate state.
type GateState string

const (
	GateIdle    GateState = "idle"
	GatePending GateState = "pending"
)

// DraftGate holds at most one extracted draft awaiting confirmation.
// A new offer while pending replaces the held draft.
type DraftGate struct {
	mu    sync.Mutex
	draft *domain.StrategyDraft
}

// NewDraftGate returns an idle gate.
func NewDraftGate() *DraftGate {
	return &DraftGate{}
}

// Offer moves the gate to pending with draft. A nil draft is ignored.
// It reports whether an unconfirmed draft was replaced.
func (g *DraftGate) Offer(draft *domain.StrategyDraft) (replaced bool) {
	if draft == nil {
		return false
	}
	held := draft.Clone()

	g.mu.Lock()
	defer g.mu.Unlock()
	replaced = g.draft != nil
	g.draft = &held
	return replaced
}

// State returns the current gate state.
func (g *DraftGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draft != nil {
		return GatePending
	}
	return GateIdle
}

// Pending returns a copy of the held draft.
func (g *DraftGate) Pending() (domain.StrategyDraft, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draft == nil {
		return domain.StrategyDraft{}, false
	}
	return g.draft.Clone(), true
}

// Confirm releases the held draft for creation and returns the gate to idle.
// Without acknowledgement the gate is left untouched.
func (g *DraftGate) Confirm(acknowledged bool) (domain.StrategyDraft, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draft == nil {
		return domain.StrategyDraft{}, ErrNoPendingDraft
	}
	if !acknowledged {
		return domain.StrategyDraft{}, ErrNotAcknowledged
	}
	draft := *g.draft
	g.draft = nil
	return draft, nil
}

// Discard drops the held draft.
func (g *DraftGate) Discard() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.draft == nil {
		return ErrNoPendingDraft
	}
	g.draft = nil
	return nil
}
