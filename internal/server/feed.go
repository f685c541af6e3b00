package server

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/bridgera/internal/engine"
)

const (
	defaultSubscriberCapacity = 64
	defaultBacklogLimit       = 50
	defaultDedupeWindow       = 512

	// AllOperations subscribes to runs of every operation.
	AllOperations = "*"
)

// Event types published on the feed.
const (
	EventSucceeded = "succeeded"
	EventFailed    = "failed"
	EventCleared   = "cleared"
)

// Event is the feed's view of one finished run.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Operation string    `json:"operation"`
	Fields    []string  `json:"fields,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// EventFromResult converts an engine result into a feed event.
func EventFromResult(result engine.Result) Event {
	kind := EventSucceeded
	switch {
	case result.Reset:
		kind = EventCleared
	case result.Status == engine.StatusFailed:
		kind = EventFailed
	}
	return Event{
		ID:        result.RunID,
		Type:      kind,
		Operation: result.Operation,
		Fields:    result.Patch.Keys(),
		Error:     result.Error,
		At:        result.StartedAt.Add(result.Duration).UTC(),
	}
}

// FeedOption customizes Feed construction.
type FeedOption func(*Feed)

// FeedWithLogger injects a logger for drop diagnostics.
func FeedWithLogger(logger zerolog.Logger) FeedOption {
	return func(f *Feed) {
		f.logger = logger
	}
}

// FeedWithSubscriberCapacity overrides the buffered channel size per subscriber.
func FeedWithSubscriberCapacity(capacity int) FeedOption {
	return func(f *Feed) {
		if capacity > 0 {
			f.channelSize = capacity
		}
	}
}

// FeedWithBacklogLimit overrides how many events are held while nobody listens.
func FeedWithBacklogLimit(limit int) FeedOption {
	return func(f *Feed) {
		if limit > 0 {
			f.backlogLimit = limit
		}
	}
}

// Feed fans finished runs out to subscribers keyed by operation name, with
// buffering while nobody listens, deduplication by run id and bounded
// channels.
type Feed struct {
	mu           sync.RWMutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      []Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       zerolog.Logger
}

// Subscription represents an active feed subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewFeed constructs a feed with sane defaults.
func NewFeed(opts ...FeedOption) *Feed {
	f := &Feed{
		subscribers:  map[string]map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Observe satisfies engine.WithObserver.
func (f *Feed) Observe(result engine.Result) {
	f.Publish(EventFromResult(result))
}

// Subscribe registers for runs of one operation, or AllOperations.
// Buffered events matching topic are delivered first.
func (f *Feed) Subscribe(topic string) Subscription {
	topic = normalizeTopic(topic)
	sub := newSubscriber(f.channelSize, f.logger)
	var pending []Event
	f.mu.Lock()
	if f.subscribers[topic] == nil {
		f.subscribers[topic] = map[*subscriber]struct{}{}
	}
	f.subscribers[topic][sub] = struct{}{}
	kept := f.backlog[:0]
	for _, event := range f.backlog {
		if matches(topic, event) {
			pending = append(pending, event)
			continue
		}
		kept = append(kept, event)
	}
	f.backlog = kept
	f.mu.Unlock()
	for _, event := range pending {
		sub.deliver(event)
	}
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			f.removeSubscriber(topic, sub)
		},
	}
}

// Publish delivers event to matching subscribers or buffers it when none exist.
func (f *Feed) Publish(event Event) {
	if event.ID != "" && f.isDuplicate(event.ID) {
		return
	}
	f.mu.RLock()
	subs := f.snapshotSubscribers(event)
	f.mu.RUnlock()
	if len(subs) == 0 {
		f.bufferEvent(event)
		return
	}
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, subs := range f.subscribers {
		for sub := range subs {
			sub.close()
		}
		delete(f.subscribers, topic)
	}
}

func (f *Feed) snapshotSubscribers(event Event) []*subscriber {
	var items []*subscriber
	for _, topic := range []string{normalizeTopic(event.Operation), AllOperations} {
		for sub := range f.subscribers[topic] {
			items = append(items, sub)
		}
	}
	return items
}

func (f *Feed) removeSubscriber(topic string, sub *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if subs := f.subscribers[topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(f.subscribers, topic)
		}
	}
	sub.close()
}

func (f *Feed) bufferEvent(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.backlog) >= f.backlogLimit {
		f.backlog = f.backlog[1:]
		f.logger.Debug().Int("limit", f.backlogLimit).Msg("feed backlog full, dropped oldest event")
	}
	f.backlog = append(f.backlog, event)
}

func (f *Feed) isDuplicate(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.recentIDs[id]; ok {
		return true
	}
	f.recentIDs[id] = struct{}{}
	f.recentOrder = append(f.recentOrder, id)
	if len(f.recentOrder) > f.dedupeWindow {
		oldest := f.recentOrder[0]
		f.recentOrder = f.recentOrder[1:]
		delete(f.recentIDs, oldest)
	}
	return false
}

func matches(topic string, event Event) bool {
	return topic == AllOperations || topic == normalizeTopic(event.Operation)
}

// Operation names are camelCase, so topics keep their case.
func normalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return AllOperations
	}
	return topic
}

type subscriber struct {
	ch      chan Event
	logger  zerolog.Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger zerolog.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

func (s *subscriber) deliver(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// reader drained the queue in the meantime
		s.ch <- event
		return
	}
	if shouldDropOldest(oldest, event) {
		s.logDrop(oldest)
		s.ch <- event
		return
	}
	s.ch <- oldest
	s.logDrop(event)
}

func (s *subscriber) logDrop(event Event) {
	s.logger.Debug().Str("operation", event.Operation).Str("type", event.Type).Msg("feed subscriber overflow, event dropped")
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Failures and clears outrank successes when a subscriber falls behind.
func shouldDropOldest(oldest, incoming Event) bool {
	oldestCritical := isCritical(oldest.Type)
	incomingCritical := isCritical(incoming.Type)
	if oldestCritical && !incomingCritical {
		return false
	}
	return true
}

func isCritical(kind string) bool {
	return kind == EventFailed || kind == EventCleared
}
