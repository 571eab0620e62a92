package pubsub

// EventType names what changed in an engine.
type EventType string

const (
	MessageAppended  EventType = "message.appended"
	MessageRevealed  EventType = "message.revealed"
	MessageFinalized EventType = "message.finalized"
	SessionCreated   EventType = "session.created"
	SessionSwitched  EventType = "session.switched"
	SessionDeleted   EventType = "session.deleted"
	SessionRenamed   EventType = "session.renamed"
	DraftPending     EventType = "draft.pending"
	DraftDiscarded   EventType = "draft.discarded"
	StrategyCreated  EventType = "strategy.created"
	TokensUpdated    EventType = "tokens.updated"
)

// Event is one published change.
type Event[T any] struct {
	Type    EventType `json:"type"`
	Payload T         `json:"payload"`
}
