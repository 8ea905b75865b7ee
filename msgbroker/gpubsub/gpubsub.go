// Package gpubsub implements msgbroker.MsgBroker on Google Cloud Pub/Sub.
package gpubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/tender-core/msgbroker"
	"google.golang.org/api/iterator"
)

var log = golog.Logger("msgbroker/gpubsub")

// PubsubMsgBroker is a msgbroker.MsgBroker backed by Google Cloud Pub/Sub.
type PubsubMsgBroker struct {
	topicPrefix string
	subsName    string

	client          *pubsub.Client
	clientCtx       context.Context
	clientCtxCancel context.CancelFunc

	topicCacheLock sync.Mutex
	topicCache     map[string]*pubsub.Topic
}

var _ msgbroker.MsgBroker = (*PubsubMsgBroker)(nil)

// New returns a new PubsubMsgBroker. Topic names are prefixed with
// topicPrefix; subsName identifies this consumer's subscriptions.
func New(projectID, topicPrefix, subsName string) (*PubsubMsgBroker, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project-id is empty")
	}
	if subsName == "" {
		return nil, fmt.Errorf("subscription name is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating pubsub client: %s", err)
	}

	return &PubsubMsgBroker{
		topicPrefix: topicPrefix,

		subsName:        subsName,
		client:          client,
		clientCtx:       ctx,
		clientCtxCancel: cancel,

		topicCache: map[string]*pubsub.Topic{},
	}, nil
}

// RegisterTopicHandler registers a handler for a topic, creating the topic
// and subscription if they don't exist.
func (p *PubsubMsgBroker) RegisterTopicHandler(
	topicName msgbroker.TopicName,
	handler msgbroker.TopicHandler,
	opts ...msgbroker.Option) error {
	config := msgbroker.ApplyRegisterHandlerOptions(opts...)

	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}

	subsName := fmt.Sprintf("%s-%s", p.subsName, topicName)
	var sub *pubsub.Subscription
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	it := topic.Subscriptions(ctx)
	for {
		subi, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("looking for subscription: %s", err)
		}
		if subi.ID() == subsName {
			sub = subi
			break
		}
	}
	if sub == nil {
		log.Warnf("creating subscription %s for topic %s", subsName, topicName)

		config := pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: config.AckDeadline,
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		sub, err = p.client.CreateSubscription(ctx, subsName, config)
		if err != nil {
			return fmt.Errorf("creating subscription: %s", err)
		}
	}

	go func() {
		err := sub.Receive(p.clientCtx, func(ctx context.Context, m *pubsub.Message) {
			if err := handler(ctx, m.Data); err != nil {
				log.Warnf("handling %s message %s: %s", topicName, m.ID, err)
				m.Nack()
				return
			}
			m.Ack()
		})
		if err != nil {
			log.Errorf("receive handler subscription %s, topic %s: %s", subsName, topicName, err)
		}
	}()

	log.Debugf("registered handler for %s:%s", subsName, topicName)
	return nil
}

// PublishMsg publishes a message to the desired topic.
func (p *PubsubMsgBroker) PublishMsg(ctx context.Context, topicName msgbroker.TopicName, data []byte) error {
	topic, err := p.getTopic(string(topicName))
	if err != nil {
		return fmt.Errorf("get topic: %s", err)
	}
	pr := topic.Publish(ctx, &pubsub.Message{Data: data})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	if _, err := pr.Get(ctx); err != nil {
		return fmt.Errorf("publishing to pubsub: %s", err)
	}

	return nil
}

func (p *PubsubMsgBroker) getTopic(name string) (*pubsub.Topic, error) {
	name = p.topicPrefix + name

	p.topicCacheLock.Lock()
	defer p.topicCacheLock.Unlock()
	topic, ok := p.topicCache[name]
	if ok {
		return topic, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	topic = p.client.Topic(name)
	exist, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic exists: %s", err)
	}
	if !exist {
		log.Warnf("creating topic %s", name)

		topic, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("creating topic %s: %s", name, err)
		}
	}
	p.topicCache[name] = topic

	return topic, nil
}

// Close shuts down all subscriptions and the underlying client.
func (p *PubsubMsgBroker) Close() error {
	p.clientCtxCancel()
	return p.client.Close()
}
