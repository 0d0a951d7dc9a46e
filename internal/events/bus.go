// Package events provides the pipeline event bus. Stages publish progress
// and findings; API and persistence layers subscribe.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventBarIngested     EventType = "BAR_INGESTED"
	EventVolumeAnalyzed  EventType = "VOLUME_ANALYZED"
	EventRangeDetected   EventType = "RANGE_DETECTED"
	EventPhaseDetected   EventType = "PHASE_DETECTED"
	EventPatternDetected EventType = "PATTERN_DETECTED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventCampaignUpdated EventType = "CAMPAIGN_UPDATED"
	EventDetectorFailed  EventType = "DETECTOR_FAILED"
	EventStageCompleted  EventType = "STAGE_COMPLETED"
	EventError           EventType = "ERROR"
)

// Event represents a system event. CorrelationID threads one analysis run
// through every stage's events.
type Event struct {
	Type          EventType              `json:"type"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Data          map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishRangeDetected publishes a trading range detection event
func (eb *EventBus) PublishRangeDetected(correlationID, symbol, timeframe string, support, resistance string, quality float64) {
	eb.Publish(Event{
		Type:          EventRangeDetected,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"timeframe":  timeframe,
			"support":    support,
			"resistance": resistance,
			"quality":    quality,
		},
	})
}

// PublishPhaseDetected publishes a phase classification event
func (eb *EventBus) PublishPhaseDetected(correlationID, symbol, phase string, confidence float64, tradingAllowed bool) {
	eb.Publish(Event{
		Type:          EventPhaseDetected,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"symbol":          symbol,
			"phase":           phase,
			"confidence":      confidence,
			"trading_allowed": tradingAllowed,
		},
	})
}

// PublishPatternDetected publishes a pattern detection event
func (eb *EventBus) PublishPatternDetected(correlationID, symbol, kind string, barIndex int, confidence float64) {
	eb.Publish(Event{
		Type:          EventPatternDetected,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"kind":       kind,
			"bar_index":  barIndex,
			"confidence": confidence,
		},
	})
}

// PublishSignal publishes a trade signal event
func (eb *EventBus) PublishSignal(correlationID, symbol, patternKind, entryPrice string, confidence float64) {
	eb.Publish(Event{
		Type:          EventSignalGenerated,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"pattern":     patternKind,
			"entry_price": entryPrice,
			"confidence":  confidence,
		},
	})
}

// PublishDetectorFailed publishes a detector failure event
func (eb *EventBus) PublishDetectorFailed(correlationID, symbol, detector string, err error) {
	data := map[string]interface{}{
		"symbol":   symbol,
		"detector": detector,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type:          EventDetectorFailed,
		CorrelationID: correlationID,
		Data:          data,
	})
}

// PublishStageCompleted publishes stage timing for one pipeline stage
func (eb *EventBus) PublishStageCompleted(correlationID, symbol, stage string, durationMs int64, success bool) {
	eb.Publish(Event{
		Type:          EventStageCompleted,
		CorrelationID: correlationID,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"stage":       stage,
			"duration_ms": durationMs,
			"success":     success,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(correlationID, source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type:          EventError,
		CorrelationID: correlationID,
		Data:          data,
	})
}
