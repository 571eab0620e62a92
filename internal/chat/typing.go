package chat

import (
	"context"
	"time"
)

// StopMarker is appended to a reply whose reveal the user stopped.
const StopMarker = "\n\n*Response stopped by user*"

// reveal is a cancellable, time-sliced presentation of already known text.
type reveal struct {
	sessionID string
	messageID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// startReveal walks content chunk runes at a time, calling onTick with the
// revealed prefix after each chunk. When the whole buffer is shown it calls
// onDone. A cancelled reveal calls neither again.
func startReveal(sessionID, messageID, content string, delay time.Duration, chunk int,
	onTick func(revealed string), onDone func(),
) *reveal {
	ctx, cancel := context.WithCancel(context.Background())
	r := &reveal{
		sessionID: sessionID,
		messageID: messageID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if chunk <= 0 {
		chunk = 1
	}

	go func() {
		defer close(r.done)
		defer cancel()

		runes := []rune(content)
		ticker := time.NewTicker(delay * time.Duration(chunk))
		defer ticker.Stop()

		for shown := 0; shown < len(runes); {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			shown = min(shown+chunk, len(runes))
			onTick(string(runes[:shown]))
		}

		if ctx.Err() == nil {
			onDone()
		}
	}()

	return r
}

// Stop cancels the reveal without waiting for its goroutine.
func (r *reveal) Stop() {
	r.cancel()
}
