// Package events publishes intent lifecycle transitions to downstream consumers.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// Transition is one committed status change of an intent.
type Transition struct {
	IntentID  string              `json:"intentId"`
	From      models.Status       `json:"from"`
	To        models.Status       `json:"to"`
	Timestamp int64               `json:"timestamp"`
	Reasons   []models.ReasonCode `json:"reasons,omitempty"`
}

// RoutingKey is the topic a transition is published under, e.g. "intent.settled".
func (t Transition) RoutingKey() string {
	return "intent." + strings.ToLower(string(t.To))
}

// Publisher delivers transitions. Publish failures never roll back a transition.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
	Close() error
}

// Noop drops every transition.
type Noop struct{}

func (Noop) Publish(context.Context, Transition) error { return nil }
func (Noop) Close() error                               { return nil }

// MemoryPublisher keeps published transitions in order.
type MemoryPublisher struct {
	mu          sync.Mutex
	transitions []Transition
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(_ context.Context, t Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, t)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Transitions returns what was published so far.
func (p *MemoryPublisher) Transitions() []Transition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Transition(nil), p.transitions...)
}

// For returns the published transitions of one intent.
func (p *MemoryPublisher) For(intentID string) []Transition {
	var out []Transition
	for _, t := range p.Transitions() {
		if t.IntentID == intentID {
			out = append(out, t)
		}
	}
	return out
}
