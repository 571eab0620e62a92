package strategy

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brokernomex/strategy-chat/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeInserter struct {
	mu    sync.Mutex
	calls int
	err   error
	last  domain.TradingStrategy
}

func (f *fakeInserter) InsertStrategy(_ context.Context, s domain.TradingStrategy) (*domain.TradingStrategy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = s
	if f.err != nil {
		return nil, f.err
	}
	s.ID = uuid.NewString()
	return &s, nil
}

func sampleDraft() *domain.StrategyDraft {
	return &domain.StrategyDraft{
		Name:          "AI Covered Calls - AAPL",
		Type:          domain.StrategyCoveredCalls,
		Description:   "AI-generated covered calls strategy for AAPL based on your requirements.",
		RiskLevel:     domain.RiskLow,
		MinCapital:    decimal.NewFromInt(30000),
		Configuration: map[string]any{"symbol": "AAPL"},
	}
}

func TestDraftGateLifecycle(t *testing.T) {
	g := NewDraftGate()
	if g.State() != GateIdle {
		t.Fatalf("expected idle gate, got %s", g.State())
	}
	if _, err := g.Confirm(true); !errors.Is(err, ErrNoPendingDraft) {
		t.Fatalf("expected ErrNoPendingDraft, got %v", err)
	}

	if replaced := g.Offer(sampleDraft()); replaced {
		t.Fatal("first offer must not report a replacement")
	}
	if g.State() != GatePending {
		t.Fatalf("expected pending gate, got %s", g.State())
	}

	if _, err := g.Confirm(false); !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("expected ErrNotAcknowledged, got %v", err)
	}
	if g.State() != GatePending {
		t.Fatal("unacknowledged confirmation must leave the draft pending")
	}

	draft, err := g.Confirm(true)
	if err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if draft.Name != "AI Covered Calls - AAPL" {
		t.Errorf("unexpected draft %q", draft.Name)
	}
	if g.State() != GateIdle {
		t.Fatalf("expected idle gate after confirmation, got %s", g.State())
	}
}

func TestDraftGateLastOfferWins(t *testing.T) {
	g := NewDraftGate()
	g.Offer(sampleDraft())

	second := sampleDraft()
	second.Name = "AI Wheel - TSLA"
	second.Type = domain.StrategyWheel
	if replaced := g.Offer(second); !replaced {
		t.Fatal("expected second offer to replace the first")
	}

	pending, ok := g.Pending()
	if !ok || pending.Name != "AI Wheel - TSLA" {
		t.Fatalf("expected the latest draft to be pending, got %+v", pending)
	}
}

func TestDraftGateHoldsImmutableCopy(t *testing.T) {
	g := NewDraftGate()
	draft := sampleDraft()
	g.Offer(draft)
	draft.Configuration["symbol"] = "MSFT"

	pending, _ := g.Pending()
	if pending.Configuration["symbol"] != "AAPL" {
		t.Fatalf("held draft changed through caller's map: %v", pending.Configuration)
	}
	pending.Configuration["symbol"] = "NVDA"
	again, _ := g.Pending()
	if again.Configuration["symbol"] != "AAPL" {
		t.Fatalf("held draft changed through reader's map: %v", again.Configuration)
	}
}

func TestDraftGateDiscard(t *testing.T) {
	g := NewDraftGate()
	if err := g.Discard(); !errors.Is(err, ErrNoPendingDraft) {
		t.Fatalf("expected ErrNoPendingDraft, got %v", err)
	}
	g.Offer(sampleDraft())
	if err := g.Discard(); err != nil {
		t.Fatalf("Discard failed: %v", err)
	}
	if g.State() != GateIdle {
		t.Fatal("expected idle gate after discard")
	}
}

func TestCreatorPersistsInactiveStrategy(t *testing.T) {
	store := &fakeInserter{}
	c := NewCreator(store, nil, nil)

	created, err := c.Create(context.Background(), "user-1", *sampleDraft())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" || created.IsActive {
		t.Fatalf("expected inactive strategy with id, got %+v", created)
	}
	if store.last.UserID != "user-1" || store.last.IsActive {
		t.Fatalf("unexpected record sent to store: %+v", store.last)
	}
	if got := c.Strategies(); len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("expected created strategy in list, got %+v", got)
	}
}

func TestCreatorFailureRetainsNothing(t *testing.T) {
	store := &fakeInserter{err: errors.New("disk full")}
	c := NewCreator(store, []domain.TradingStrategy{{ID: "existing"}}, nil)

	if _, err := c.Create(context.Background(), "user-1", *sampleDraft()); err == nil {
		t.Fatal("expected store failure to surface")
	}
	if got := c.Strategies(); len(got) != 1 || got[0].ID != "existing" {
		t.Fatalf("expected list unchanged, got %+v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *domain.StrategyDraft)
	}{
		{"empty name", func(d *domain.StrategyDraft) { d.Name = "" }},
		{"unknown type", func(d *domain.StrategyDraft) { d.Type = "lottery" }},
		{"unknown risk", func(d *domain.StrategyDraft) { d.RiskLevel = "extreme" }},
		{"zero capital", func(d *domain.StrategyDraft) { d.MinCapital = decimal.Zero }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := sampleDraft()
			tt.mutate(d)
			if err := Validate(*d); !errors.Is(err, ErrInvalidDraft) {
				t.Fatalf("expected ErrInvalidDraft, got %v", err)
			}
		})
	}
	if err := Validate(*sampleDraft()); err != nil {
		t.Fatalf("expected sample draft to validate, got %v", err)
	}
}
