package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog/log"
)

// Sink receives events from components as they happen. Every component that
// reports progress takes a Sink; passing a NullSink silences it.
type Sink interface {
	Publish(e Event) error
	PublishBlind(e Event)
}

// PublisherManager distributes events to a set of watermill publishers,
// stamping each outgoing message with a monotonic sequence number in the
// order Publish handled them. Consumers use the sequence number to verify
// turn-level ordering.
type PublisherManager struct {
	Publishers     map[string][]message.Publisher
	sequenceNumber uint64
	mutex          sync.Mutex
}

var _ Sink = &PublisherManager{}

func NewPublisherManager() *PublisherManager {
	return &PublisherManager{
		Publishers: make(map[string][]message.Publisher),
	}
}

func (s *PublisherManager) SubscribePublisher(topic string, pub message.Publisher) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Publishers[topic] = append(s.Publishers[topic], pub)
}

func (s *PublisherManager) Publish(e Event) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set("sequence_number", fmt.Sprintf("%d", s.sequenceNumber))
	msg.Metadata.Set("event_type", string(e.Type()))
	s.sequenceNumber++

	for topic, pubs := range s.Publishers {
		for _, pub := range pubs {
			if err := pub.Publish(topic, msg); err != nil {
				log.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
			}
		}
	}

	return nil
}

func (s *PublisherManager) PublishBlind(e Event) {
	if err := s.Publish(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish event")
	}
}

// NullSink drops everything.
type NullSink struct{}

var _ Sink = NullSink{}

func (NullSink) Publish(Event) error { return nil }
func (NullSink) PublishBlind(Event)  {}

// CollectorSink buffers events in order. Used by the blocking query path and
// by tests that assert on emission order.
type CollectorSink struct {
	mu     sync.Mutex
	events []Event
}

var _ Sink = &CollectorSink{}

func NewCollectorSink() *CollectorSink {
	return &CollectorSink{}
}

func (c *CollectorSink) Publish(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *CollectorSink) PublishBlind(e Event) {
	_ = c.Publish(e)
}

func (c *CollectorSink) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// ChannelSink forwards events to a channel for one live consumer. Publish
// blocks until the consumer takes the event, preserving order end to end.
type ChannelSink struct {
	ch chan Event
}

var _ Sink = &ChannelSink{}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

func (c *ChannelSink) Publish(e Event) error {
	c.ch <- e
	return nil
}

func (c *ChannelSink) PublishBlind(e Event) {
	_ = c.Publish(e)
}

func (c *ChannelSink) Ch() <-chan Event {
	return c.ch
}

// Close ends the stream; publishing after Close panics, so only the
// producing side may call it, after the final event.
func (c *ChannelSink) Close() {
	close(c.ch)
}

// TeeSink fans one event out to several sinks.
type TeeSink struct {
	Sinks []Sink
}

var _ Sink = &TeeSink{}

func NewTeeSink(sinks ...Sink) *TeeSink {
	return &TeeSink{Sinks: sinks}
}

func (t *TeeSink) Publish(e Event) error {
	var firstErr error
	for _, s := range t.Sinks {
		if err := s.Publish(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TeeSink) PublishBlind(e Event) {
	if err := t.Publish(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish event")
	}
}
