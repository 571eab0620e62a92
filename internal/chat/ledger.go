package chat

import (
	"sync"

	"github.com/brokernomex/strategy-chat/internal/domain"
)

// TokenTotals is a snapshot of the ledger.
type TokenTotals struct {
	SessionTotal  int64              `json:"session_total"`
	LifetimeTotal int64              `json:"lifetime_total"`
	LastModel     string             `json:"last_model,omitempty"`
	LastUsage     *domain.TokenUsage `json:"last_usage,omitempty"`
}

// TokenLedger accumulates token counts from completion responses.
// The lifetime total never decreases; the session total is a per-visit counter.
type TokenLedger struct {
	mu        sync.Mutex
	session   int64
	lifetime  int64
	lastModel string
	lastUsage *domain.TokenUsage
}

// NewTokenLedger returns an empty ledger.
func NewTokenLedger() *TokenLedger {
	return &TokenLedger{}
}

// Record adds usage.TotalTokens to both totals and remembers the model.
func (l *TokenLedger) Record(usage domain.TokenUsage, model string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if usage.TotalTokens > 0 {
		l.session += usage.TotalTokens
		l.lifetime += usage.TotalTokens
	}
	l.lastModel = model
	u := usage
	l.lastUsage = &u
}

// ResetSession zeroes the session total.
func (l *TokenLedger) ResetSession() {
	l.mu.Lock()
	l.session = 0
	l.mu.Unlock()
}

// Totals returns the current counters.
func (l *TokenLedger) Totals() TokenTotals {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := TokenTotals{
		SessionTotal:  l.session,
		LifetimeTotal: l.lifetime,
		LastModel:     l.lastModel,
	}
	if l.lastUsage != nil {
		u := *l.lastUsage
		t.LastUsage = &u
	}
	return t
}
