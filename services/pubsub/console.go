package pubsub

import (
	"context"
	"sync"
)

// Message is a payload published by the ConsolePublisher.
type Message struct {
	Channel string
	Payload []byte
}

// ConsolePublisher prints payloads instead of delivering them. Used in DEBUG mode and tests.
type ConsolePublisher struct {
	mu       sync.Mutex
	messages []Message
	print    func(format string, args ...interface{})
}

// NewConsolePublisher returns a publisher printing payloads with printf; a nil printf keeps them silent.
func NewConsolePublisher(printf func(format string, args ...interface{})) *ConsolePublisher {
	return &ConsolePublisher{print: printf}
}

func (p *ConsolePublisher) Publish(_ context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	p.mu.Lock()
	p.messages = append(p.messages, Message{Channel: channel, Payload: append([]byte(nil), payload...)})
	p.mu.Unlock()

	if p.print != nil {
		p.print("PUBLISH %s %s", channel, payload)
	}
	return nil
}

// Messages returns the published messages, oldest first.
func (p *ConsolePublisher) Messages(channel ...string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]Message, 0, len(p.messages))
	for _, m := range p.messages {
		if len(channel) > 0 && m.Channel != channel[0] {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func (p *ConsolePublisher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
}
