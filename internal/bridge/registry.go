package bridge

import (
	"slices"
	"strings"
	"time"
)

// DefaultSubscribeTimeout is how long a subscribe waits for confirmation.
const DefaultSubscribeTimeout = 5 * time.Second

// SubscriptionEntry is a confirmed subscription.
type SubscriptionEntry struct {
	Topic        string    `json:"topic"`
	QoS          byte      `json:"qos"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

// Pending is one subscribe request awaiting confirmation.
type Pending struct {
	Topic string
	QoS   byte

	onSettle func(p *Pending, err error)
	timer    *time.Timer
	settled  bool

	// Granted and Code are filled in when the broker answers.
	Granted byte
	Code    *int
}

// Registry tracks confirmed subscriptions and reconciles confirmations
// against pending requests.
//
// Confirmations are matched by exact topic, not by request: every request
// pending for a topic settles on the first confirmation for it, and a
// confirmation arriving after its request timed out still records the
// entry. Entries are only ever added by a confirmation, and only for topics
// requested since the last Clear.
//
// The registry is not safe for concurrent use; its owner serialises access.
type Registry struct {
	entries   map[string]SubscriptionEntry
	pending   map[string][]*Pending
	requested map[string]struct{}
	now       func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		entries:   make(map[string]SubscriptionEntry),
		pending:   make(map[string][]*Pending),
		requested: make(map[string]struct{}),
		now:       now,
	}
}

// Begin records a subscribe request. onSettle runs exactly once, when the
// request is confirmed, refused, expired or failed.
func (r *Registry) Begin(topic string, qos byte, onSettle func(p *Pending, err error)) *Pending {
	p := &Pending{Topic: topic, QoS: qos, onSettle: onSettle}
	r.pending[topic] = append(r.pending[topic], p)
	r.requested[topic] = struct{}{}
	return p
}

// Confirm applies the broker's answer for topic. A nil result or a zero
// result is success; a non-zero result or a non-nil err is a refusal.
// It returns the number of pending requests settled.
func (r *Registry) Confirm(topic string, granted byte, result *int, err error) int {
	var failure error
	switch {
	case err != nil:
		failure = &SubscribeError{Topic: topic, Err: err}
	case result != nil && *result != 0:
		code := *result
		failure = &SubscribeError{Topic: topic, Code: &code}
	}

	if failure == nil {
		if _, ok := r.requested[topic]; ok {
			r.entries[topic] = SubscriptionEntry{Topic: topic, QoS: granted, SubscribedAt: r.now()}
		}
	}

	waiting := r.pending[topic]
	delete(r.pending, topic)
	for _, p := range waiting {
		p.Granted = granted
		p.Code = result
		p.settle(failure)
	}
	return len(waiting)
}

// Expire fails p with ErrSubscriptionTimeout if it is still pending.
// No entry is added.
func (r *Registry) Expire(p *Pending) bool {
	return r.Fail(p, ErrSubscriptionTimeout)
}

// Fail settles one pending request with err, leaving others for the same
// topic waiting. It reports whether p was still pending.
func (r *Registry) Fail(p *Pending, err error) bool {
	waiting := r.pending[p.Topic]
	idx := slices.Index(waiting, p)
	if idx < 0 {
		return false
	}
	waiting = slices.Delete(waiting, idx, idx+1)
	if len(waiting) == 0 {
		delete(r.pending, p.Topic)
	} else {
		r.pending[p.Topic] = waiting
	}
	p.settle(err)
	return true
}

// Remove drops topic optimistically, without waiting for the broker.
func (r *Registry) Remove(topic string) {
	delete(r.entries, topic)
	delete(r.requested, topic)
}

// FailAll settles every pending request with err.
func (r *Registry) FailAll(err error) int {
	n := 0
	for topic, waiting := range r.pending {
		for _, p := range waiting {
			p.settle(err)
			n++
		}
		delete(r.pending, topic)
	}
	return n
}

// Clear drops every entry and forgets which topics were requested.
// Pending requests are untouched; use FailAll first.
func (r *Registry) Clear() {
	clear(r.entries)
	clear(r.requested)
}

// Entry returns the confirmed entry for topic.
func (r *Registry) Entry(topic string) (SubscriptionEntry, bool) {
	e, ok := r.entries[topic]
	return e, ok
}

// Entries returns confirmed subscriptions sorted by topic.
func (r *Registry) Entries() []SubscriptionEntry {
	out := make([]SubscriptionEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b SubscriptionEntry) int { return strings.Compare(a.Topic, b.Topic) })
	return out
}

// Len returns the number of confirmed subscriptions.
func (r *Registry) Len() int { return len(r.entries) }

// PendingTopics returns the topics with requests awaiting confirmation.
func (r *Registry) PendingTopics() []string {
	out := make([]string, 0, len(r.pending))
	for topic := range r.pending {
		out = append(out, topic)
	}
	slices.Sort(out)
	return out
}

// PendingCount returns the number of requests awaiting confirmation.
func (r *Registry) PendingCount() int {
	n := 0
	for _, waiting := range r.pending {
		n += len(waiting)
	}
	return n
}

func (p *Pending) settle(err error) {
	if p.settled {
		return
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.onSettle != nil {
		p.onSettle(p, err)
	}
}
