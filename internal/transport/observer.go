package transport

import (
	"time"

	"github.com/nerrad567/hublink/internal/message"
)

// Observer is told about message and connection events for bookkeeping.
// Implementations must be safe for concurrent use and must not call back
// into the Transport.
type Observer interface {
	MessageQueued(msg *message.Message)
	MessageRetried(msg *message.Message, attempt int, after time.Duration, cause error)
	MessageCompleted(msg *message.Message, status message.Status, retries int)
	StatusChanged(status ConnectionStatus, reason ChangeReason, cause error)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) MessageQueued(msg *message.Message) {
	for _, obs := range o {
		obs.MessageQueued(msg)
	}
}

func (o Observers) MessageRetried(msg *message.Message, attempt int, after time.Duration, cause error) {
	for _, obs := range o {
		obs.MessageRetried(msg, attempt, after, cause)
	}
}

func (o Observers) MessageCompleted(msg *message.Message, status message.Status, retries int) {
	for _, obs := range o {
		obs.MessageCompleted(msg, status, retries)
	}
}

func (o Observers) StatusChanged(status ConnectionStatus, reason ChangeReason, cause error) {
	for _, obs := range o {
		obs.StatusChanged(status, reason, cause)
	}
}
