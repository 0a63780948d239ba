package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

// Lifecycle events consumed by external broadcasters and visibility hooks.
// The name set is a stable contract.
const (
	EventSourceAdded   EventType = "sourceAdded"
	EventSourceRemoved EventType = "sourceRemoved"
	EventSourceUpdated EventType = "sourceUpdated"

	EventDiscoveryStarted   EventType = "discoveryStarted"
	EventDiscoveryCompleted EventType = "discoveryCompleted"
	EventDiscoveryFailed    EventType = "discoveryFailed"

	EventDocumentProcessingStarted   EventType = "documentProcessingStarted"
	EventDocumentProcessingCompleted EventType = "documentProcessingCompleted"
	EventDocumentProcessingFailed    EventType = "documentProcessingFailed"

	EventBatchProcessingStarted   EventType = "batchProcessingStarted"
	EventBatchProcessingCompleted EventType = "batchProcessingCompleted"

	EventError EventType = "error"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies one registered handler for unsubscription.
type SubscriptionID int

// EventService manages the pub/sub event bus
type EventService interface {
	// Subscribe registers a handler and returns an id usable for Unsubscribe
	Subscribe(eventType EventType, handler EventHandler) (SubscriptionID, error)

	// Unsubscribe removes a previously registered handler
	Unsubscribe(eventType EventType, id SubscriptionID) error

	// Publish delivers an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync delivers an event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
