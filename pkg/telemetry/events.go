package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a kernel lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// LaunchID is the associated launch ID, if applicable.
	LaunchID string `json:"launch_id,omitempty"`

	// Kernel is the associated kernelspec name, if applicable.
	Kernel string `json:"kernel,omitempty"`

	// Root is the associated environment root, if applicable.
	Root string `json:"root,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for the lifecycle events the engine emits.
const (
	EventTypeLaunchStarted      = "kernel.launch_started"
	EventTypeKernelRunning      = "kernel.running"
	EventTypeKernelCrashed      = "kernel.crashed"
	EventTypeKernelTerminated   = "kernel.terminated"
	EventTypeEnvProvisioned     = "environment.provisioned"
	EventTypeEnvMutated         = "environment.mutated"
	EventTypeEnvDestroyed       = "environment.destroyed"
	EventTypeSpecInstalled      = "kernelspec.installed"
	EventTypeSpecRemoved        = "kernelspec.removed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeError              = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishLaunchStarted publishes a launch started event.
func (ep *EventPublisher) PublishLaunchStarted(launchID, kernel, root string) error {
	return ep.Publish(Event{
		Type:     EventTypeLaunchStarted,
		Source:   "supervisor",
		LaunchID: launchID,
		Kernel:   kernel,
		Root:     root,
		Message:  fmt.Sprintf("launch %s of kernel %s started", launchID, kernel),
		Level:    EventLevelInfo,
	})
}

// PublishKernelRunning publishes a kernel running event.
func (ep *EventPublisher) PublishKernelRunning(launchID, kernel string, pid int) error {
	return ep.Publish(Event{
		Type:     EventTypeKernelRunning,
		Source:   "supervisor",
		LaunchID: launchID,
		Kernel:   kernel,
		Message:  fmt.Sprintf("kernel %s running (pid %d)", kernel, pid),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"pid": pid,
		},
	})
}

// PublishKernelCrashed publishes a kernel crashed event.
func (ep *EventPublisher) PublishKernelCrashed(launchID, kernel string, exitCode int) error {
	return ep.Publish(Event{
		Type:     EventTypeKernelCrashed,
		Source:   "supervisor",
		LaunchID: launchID,
		Kernel:   kernel,
		Message:  fmt.Sprintf("kernel %s crashed with exit code %d", kernel, exitCode),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"exit_code": exitCode,
		},
	})
}

// PublishKernelTerminated publishes a kernel terminated event.
func (ep *EventPublisher) PublishKernelTerminated(launchID, kernel, via string) error {
	return ep.Publish(Event{
		Type:     EventTypeKernelTerminated,
		Source:   "supervisor",
		LaunchID: launchID,
		Kernel:   kernel,
		Message:  fmt.Sprintf("kernel %s terminated via %s", kernel, via),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"via": via,
		},
	})
}

// PublishEnvProvisioned publishes an environment provisioned event.
func (ep *EventPublisher) PublishEnvProvisioned(root, pythonVersion string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeEnvProvisioned,
		Source:  "provisioner",
		Root:    root,
		Message: fmt.Sprintf("environment %s provisioned with python %s", root, pythonVersion),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"python_version": pythonVersion,
			"duration":       duration.Seconds(),
		},
	})
}

// PublishEnvMutated publishes an environment mutated event.
func (ep *EventPublisher) PublishEnvMutated(launchID, root, strategy string, added []string) error {
	return ep.Publish(Event{
		Type:     EventTypeEnvMutated,
		Source:   "mutation-handler",
		LaunchID: launchID,
		Root:     root,
		Message:  fmt.Sprintf("environment %s mutated via %s", root, strategy),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"strategy": strategy,
			"added":    added,
		},
	})
}

// PublishEnvDestroyed publishes an environment destroyed event.
func (ep *EventPublisher) PublishEnvDestroyed(root string) error {
	return ep.Publish(Event{
		Type:    EventTypeEnvDestroyed,
		Source:  "provisioner",
		Root:    root,
		Message: fmt.Sprintf("environment %s destroyed", root),
		Level:   EventLevelInfo,
	})
}

// PublishSpecInstalled publishes a kernelspec installed event.
func (ep *EventPublisher) PublishSpecInstalled(kernel, dir string) error {
	return ep.Publish(Event{
		Type:    EventTypeSpecInstalled,
		Source:  "registry",
		Kernel:  kernel,
		Message: fmt.Sprintf("kernelspec %s installed to %s", kernel, dir),
		Level:   EventLevelInfo,
	})
}

// PublishSpecRemoved publishes a kernelspec removed event.
func (ep *EventPublisher) PublishSpecRemoved(kernel string) error {
	return ep.Publish(Event{
		Type:    EventTypeSpecRemoved,
		Source:  "registry",
		Kernel:  kernel,
		Message: fmt.Sprintf("kernelspec %s removed", kernel),
		Level:   EventLevelInfo,
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(launchID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Source:   "policy-engine",
		LaunchID: launchID,
		Message:  fmt.Sprintf("policy violation: %s - %s", policyName, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain buffered events before shutting down.
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		// Subscribers must not block delivery.
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByLaunchID creates a filter that only allows events for a specific launch.
func FilterByLaunchID(launchID string) EventFilter {
	return func(event Event) bool {
		return event.LaunchID == launchID
	}
}

// FilterByKernel creates a filter that only allows events for a specific kernel.
func FilterByKernel(kernel string) EventFilter {
	return func(event Event) bool {
		return event.Kernel == kernel
	}
}
