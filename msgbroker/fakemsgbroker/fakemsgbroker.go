// Package fakemsgbroker provides an in-memory msgbroker.MsgBroker for tests.
package fakemsgbroker

import (
	"context"
	"fmt"
	"sync"

	mbroker "github.com/textileio/tender-core/msgbroker"
)

// FakeMsgBroker captures published messages and dispatches delivered
// messages to registered handlers synchronously.
type FakeMsgBroker struct {
	lock          sync.Mutex
	topicMessages map[string][][]byte
	topicHandlers map[string]mbroker.TopicHandler
}

// New returns a new FakeMsgBroker.
func New() *FakeMsgBroker {
	return &FakeMsgBroker{
		topicMessages: map[string][][]byte{},
		topicHandlers: map[string]mbroker.TopicHandler{},
	}
}

// RegisterTopicHandler registers a handler for a topic.
func (b *FakeMsgBroker) RegisterTopicHandler(
	topicName mbroker.TopicName,
	handler mbroker.TopicHandler,
	_ ...mbroker.Option) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if _, ok := b.topicHandlers[string(topicName)]; ok {
		return fmt.Errorf("topic %s already has a handler", topicName)
	}
	b.topicHandlers[string(topicName)] = handler

	return nil
}

// PublishMsg captures the message for later inspection.
func (b *FakeMsgBroker) PublishMsg(_ context.Context, topicName mbroker.TopicName, data []byte) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.topicMessages[string(topicName)] = append(b.topicMessages[string(topicName)], data)

	return nil
}

// Deliver runs the registered handler for the topic with the given payload,
// as if the message arrived from the broker.
func (b *FakeMsgBroker) Deliver(ctx context.Context, topicName mbroker.TopicName, data []byte) error {
	b.lock.Lock()
	handler, ok := b.topicHandlers[string(topicName)]
	b.lock.Unlock()
	if !ok {
		return fmt.Errorf("no handler registered for topic %s", topicName)
	}

	return handler(ctx, data)
}

// Helpers for tests

// TotalPublished returns the count of captured messages across all topics.
func (b *FakeMsgBroker) TotalPublished() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	var count int
	for _, msgs := range b.topicMessages {
		count += len(msgs)
	}

	return count
}

// TotalPublishedTopic returns the count of captured messages for a topic.
func (b *FakeMsgBroker) TotalPublishedTopic(name string) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return len(b.topicMessages[name])
}

// GetMsg returns the idx-th captured message for a topic.
func (b *FakeMsgBroker) GetMsg(name string, idx int) ([]byte, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	topic := b.topicMessages[name]
	if idx >= len(topic) {
		return nil, fmt.Errorf("topic queue has length %d smaller than idx access %d", len(topic), idx)
	}

	return topic[idx], nil
}
