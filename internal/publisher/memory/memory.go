// Package memory provides an in-process publisher for development and
// tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published record.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher records published payloads in memory. Safe for concurrent
// use.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
}

// New constructs a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload to JSON and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("msg-%d", p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
