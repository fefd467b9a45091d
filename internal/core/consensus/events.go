package consensus

import (
	"sync"
	"time"
)

// Event represents a simulation event that can be emitted.
type Event interface {
	// Type returns the event type identifier.
	Type() EventType
}

// EventType identifies the type of simulation event.
type EventType int

const (
	// EventRoundStarted fires when a proposer has been chosen for a round.
	EventRoundStarted EventType = iota

	// EventStepChanged fires after every stepwise transition.
	EventStepChanged

	// EventBlockCommitted fires when a block reaches precommit quorum.
	EventBlockCommitted

	// EventRoundFinalized fires when a voting round is appended to history.
	EventRoundFinalized

	// EventRoundTimedOut fires when the round deadline expires.
	EventRoundTimedOut

	// EventEquivocationDetected fires when a proposer signs two hashes for one slot.
	EventEquivocationDetected

	// EventViolationDetected fires when a safety or consistency check fails.
	EventViolationDetected

	// EventPartitionChanged fires when a partition is applied or lifted.
	EventPartitionChanged

	// EventModeChanged fires when synchronous mode or step mode is toggled.
	EventModeChanged

	// EventNetworkReset fires when the simulation state is reinitialized.
	EventNetworkReset
)

// String returns the string representation.
func (t EventType) String() string {
	names := map[EventType]string{
		EventRoundStarted:         "RoundStarted",
		EventStepChanged:          "StepChanged",
		EventBlockCommitted:       "BlockCommitted",
		EventRoundFinalized:       "RoundFinalized",
		EventRoundTimedOut:        "RoundTimedOut",
		EventEquivocationDetected: "EquivocationDetected",
		EventViolationDetected:    "ViolationDetected",
		EventPartitionChanged:     "PartitionChanged",
		EventModeChanged:          "ModeChanged",
		EventNetworkReset:         "NetworkReset",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// RoundStartedEvent is emitted when a new round begins.
type RoundStartedEvent struct {
	Round     int       `json:"round"`
	Proposer  NodeID    `json:"proposer"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *RoundStartedEvent) Type() EventType { return EventRoundStarted }

// StepChangedEvent is emitted after a stepwise transition.
type StepChangedEvent struct {
	Round       int       `json:"round"`
	Step        Step      `json:"step"`
	Description string    `json:"description"`
	Highlighted []NodeID  `json:"highlighted"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *StepChangedEvent) Type() EventType { return EventStepChanged }

// BlockCommittedEvent is emitted when a block is committed.
type BlockCommittedEvent struct {
	Block     Block     `json:"block"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BlockCommittedEvent) Type() EventType { return EventBlockCommitted }

// RoundFinalizedEvent is emitted when a voting round is appended to history.
type RoundFinalizedEvent struct {
	VotingRound *VotingRound `json:"votingRound"`
	Timestamp   time.Time    `json:"timestamp"`
}

func (e *RoundFinalizedEvent) Type() EventType { return EventRoundFinalized }

// RoundTimedOutEvent is emitted when a round deadline expires.
type RoundTimedOutEvent struct {
	Timeout    TimeoutEvent  `json:"timeout"`
	NextWindow time.Duration `json:"nextTimeout"`
}

func (e *RoundTimedOutEvent) Type() EventType { return EventRoundTimedOut }

// EquivocationDetectedEvent is emitted when proposal evidence conflicts.
type EquivocationDetectedEvent struct {
	Height    int       `json:"height"`
	Round     int       `json:"round"`
	Proposer  NodeID    `json:"proposer"`
	Hashes    []string  `json:"hashes"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *EquivocationDetectedEvent) Type() EventType { return EventEquivocationDetected }

// ViolationDetectedEvent is emitted when a detector reports a violation.
type ViolationDetectedEvent struct {
	Kind        string    `json:"kind"`
	Height      int       `json:"height,omitempty"`
	Hashes      []string  `json:"hashes,omitempty"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *ViolationDetectedEvent) Type() EventType { return EventViolationDetected }

// PartitionChangedEvent is emitted when the partition set changes.
type PartitionChangedEvent struct {
	Active        bool      `json:"active"`
	PartitionType string    `json:"partitionType"`
	Nodes         []NodeID  `json:"nodes"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e *PartitionChangedEvent) Type() EventType { return EventPartitionChanged }

// ModeChangedEvent is emitted when an operating mode is toggled.
type ModeChangedEvent struct {
	Synchronous bool      `json:"synchronous"`
	StepMode    bool      `json:"stepMode"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *ModeChangedEvent) Type() EventType { return EventModeChanged }

// NetworkResetEvent is emitted when the simulation is reinitialized.
type NetworkResetEvent struct {
	NodeCount int       `json:"nodeCount"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *NetworkResetEvent) Type() EventType { return EventNetworkReset }

// EventSubscriber receives simulation events.
type EventSubscriber interface {
	// OnEvent is called when an event occurs.
	OnEvent(event Event)
}

// SubscriberFunc adapts a function to EventSubscriber.
type SubscriberFunc func(Event)

// OnEvent calls f(event).
func (f SubscriberFunc) OnEvent(event Event) { f(event) }

// EventBus manages event subscriptions and delivery.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []EventSubscriber
	eventCh     chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	dropped     uint64
}

// NewEventBus creates a new event bus.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make([]EventSubscriber, 0),
		eventCh:     make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
	}
}

// Subscribe adds a subscriber to receive events.
func (eb *EventBus) Subscribe(sub EventSubscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = append(eb.subscribers, sub)
}

// Publish queues an event for delivery. Events are dropped when the buffer is full.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventCh <- event:
	default:
		eb.mu.Lock()
		eb.dropped++
		eb.mu.Unlock()
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (eb *EventBus) Dropped() uint64 {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return eb.dropped
}

// Start begins processing events.
func (eb *EventBus) Start() {
	go eb.run()
}

// Stop stops the event bus. It is safe to call more than once.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() { close(eb.stopCh) })
}

// Drain delivers every queued event synchronously. It is used when the bus
// is not started, for example by command-line runs and tests.
func (eb *EventBus) Drain() int {
	n := 0
	for {
		select {
		case event := <-eb.eventCh:
			eb.deliver(event)
			n++
		default:
			return n
		}
	}
}

func (eb *EventBus) run() {
	for {
		select {
		case <-eb.stopCh:
			return
		case event := <-eb.eventCh:
			eb.deliver(event)
		}
	}
}

func (eb *EventBus) deliver(event Event) {
	eb.mu.RLock()
	subs := make([]EventSubscriber, len(eb.subscribers))
	copy(subs, eb.subscribers)
	eb.mu.RUnlock()

	for _, sub := range subs {
		sub.OnEvent(event)
	}
}
