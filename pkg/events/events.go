package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tuskdata/tusk/pkg/metrics"
)

// EventType represents the type of event
type EventType string

const (
	EventJobSubmitted     EventType = "job.submitted"
	EventJobPending       EventType = "job.pending"
	EventJobRunning       EventType = "job.running"
	EventJobProgress      EventType = "job.progress"
	EventJobCompleted     EventType = "job.completed"
	EventJobFailed        EventType = "job.failed"
	EventJobCancelled     EventType = "job.cancelled"
	EventWorkerRegistered EventType = "worker.registered"
	EventWorkerIdle       EventType = "worker.idle"
	EventWorkerOffline    EventType = "worker.offline"
	EventWorkerEvicted    EventType = "worker.evicted"
)

// Metadata keys
const (
	KeyJobID    = "job_id"
	KeyWorkerID = "worker_id"
)

// Event represents a job or worker lifecycle event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// JobID returns the job the event refers to, if any
func (e *Event) JobID() string {
	return e.Metadata[KeyJobID]
}

// WorkerID returns the worker the event refers to, if any
func (e *Event) WorkerID() string {
	return e.Metadata[KeyWorkerID]
}

// NewJobEvent builds an event for a job transition
func NewJobEvent(t EventType, jobID, workerID, msg string) *Event {
	md := map[string]string{KeyJobID: jobID}
	if workerID != "" {
		md[KeyWorkerID] = workerID
	}
	return &Event{Type: t, Message: msg, Metadata: md}
}

// NewWorkerEvent builds an event for a worker state change
func NewWorkerEvent(t EventType, workerID, msg string) *Event {
	return &Event{Type: t, Message: msg, Metadata: map[string]string{KeyWorkerID: workerID}}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.subscribers[sub] {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. It never blocks once the broker is stopped.
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// slow subscribers re-read state on their own tick
			metrics.EventsDropped.WithLabelValues(string(event.Type)).Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
