package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
)

// route is where a channel lives on Kafka. Every room of a channel family
// shares one topic; the room id is the message key, so one room's events
// stay ordered on a single partition.
type route struct {
	topic string
	room  string // empty for a pattern
}

// parseRoute maps "{prefix}:room:{room}:{suffix}" onto a route. A "*" room
// yields a pattern route.
//
//	"relay:room:pc-01:fanout" → {relay-fanout, pc-01}
//	"relay:room:*:fanout"     → {relay-fanout, ""}
func parseRoute(channel string) (route, error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "room" || parts[0] == "" || parts[2] == "" || parts[3] == "" {
		return route{}, fmt.Errorf("invalid channel format: %s", channel)
	}
	r := route{topic: parts[0] + "-" + strings.ReplaceAll(parts[3], "_", "-")}
	if parts[2] != "*" {
		r.room = parts[2]
	}
	return r, nil
}

type kafkaSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// KafkaPubSub implements PubSub on Kafka. Subscribers read from the latest
// offset; events published before a subscription starts are not replayed.
type KafkaPubSub struct {
	producer *kafka.Producer
	config   KafkaConfig
	reports  chan struct{}

	mu            sync.Mutex
	subscriptions map[string]*kafkaSubscription
}

// NewKafkaPubSub creates a producer and makes sure the configured topics
// exist.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         2,
		"compression.type":  "lz4",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	k := &KafkaPubSub{
		producer:      p,
		config:        cfg,
		reports:       make(chan struct{}),
		subscriptions: make(map[string]*kafkaSubscription),
	}
	go k.watchDeliveries()

	if err := k.createTopics(); err != nil {
		l := pkglog.Component("pubsub")
		l.Warn().Err(err).Msg("could not create kafka topics, assuming they exist")
	}
	return k, nil
}

func (k *KafkaPubSub) createTopics() error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}
	names := k.config.Topics
	if len(names) == 0 {
		names = []string{TopicRelayFanout}
	}

	specs := make([]kafka.TopicSpecification, len(names))
	for i, name := range names {
		specs[i] = kafka.TopicSpecification{Topic: name, NumPartitions: partitions, ReplicationFactor: 1}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	l := pkglog.Component("pubsub")
	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			l.Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create kafka topic")
		}
	}
	return nil
}

func (k *KafkaPubSub) watchDeliveries() {
	defer close(k.reports)
	l := pkglog.Component("pubsub")
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("kafka pubsub delivery failed")
		}
	}
}

// Publish produces event keyed by the channel's room.
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	r, err := parseRoute(channel)
	if err != nil {
		return err
	}
	if r.room == "" {
		return fmt.Errorf("cannot publish to pattern %s", channel)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &r.topic, Partition: kafka.PartitionAny},
		Key:            []byte(r.room),
		Value:          data,
	}
	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Subscribe delivers the events of one room.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	r, err := parseRoute(channel)
	if err != nil {
		return nil, err
	}
	if r.room == "" {
		return nil, fmt.Errorf("%s is a pattern, use SubscribePattern", channel)
	}
	return k.subscribe(ctx, channel, r)
}

// SubscribePattern delivers the events of every room of the pattern's
// topic.
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	r, err := parseRoute(pattern)
	if err != nil {
		return nil, err
	}
	r.room = ""
	return k.subscribe(ctx, pattern, r)
}

func (k *KafkaPubSub) subscribe(ctx context.Context, key string, r route) (<-chan *Event, error) {
	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "pubsub-default"
	}
	// Room subscriptions get their own group so they do not split a topic's
	// partitions with the pattern subscription of the same process.
	if r.room != "" {
		groupID += "-" + sanitizeGroupID(key)
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  k.config.Brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}
	if err := c.Subscribe(r.topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", r.topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{cancel: cancel, done: make(chan struct{})}

	k.mu.Lock()
	old := k.subscriptions[key]
	k.subscriptions[key] = sub
	k.mu.Unlock()
	if old != nil {
		old.stop()
	}

	eventCh := make(chan *Event, 100)
	go k.consume(subCtx, c, r.room, eventCh, sub.done)
	return eventCh, nil
}

// consume owns c: it polls until ctx ends, then closes the consumer and
// the event channel.
func (k *KafkaPubSub) consume(ctx context.Context, c *kafka.Consumer, room string, eventCh chan<- *Event, done chan struct{}) {
	l := pkglog.Component("pubsub")
	defer close(done)
	defer close(eventCh)
	defer c.Close()

	for ctx.Err() == nil {
		switch e := c.Poll(250).(type) {
		case *kafka.Message:
			if room != "" && string(e.Key) != room {
				continue
			}
			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				l.Warn().Err(err).Str("topic", *e.TopicPartition.Topic).Msg("dropping undecodable event")
				continue
			}
			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			}
		case kafka.Error:
			l.Error().Str("error", e.String()).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}
		}
	}
}

func (s *kafkaSubscription) stop() {
	s.cancel()
	<-s.done
}

// Unsubscribe ends the subscription registered under channel and waits for
// its consumer to close.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	sub, ok := k.subscriptions[channel]
	delete(k.subscriptions, channel)
	k.mu.Unlock()

	if ok {
		sub.stop()
	}
	return nil
}

// Close ends every subscription, flushes pending messages and closes the
// producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	subs := k.subscriptions
	k.subscriptions = make(map[string]*kafkaSubscription)
	k.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	if remaining := k.producer.Flush(5000); remaining > 0 {
		l := pkglog.Component("pubsub")
		l.Warn().Int("remaining", remaining).Msg("closing kafka pubsub with undelivered events")
	}
	k.producer.Close()
	<-k.reports
	return nil
}

var groupIDRegexp = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDRegexp.ReplaceAllString(s, "-")
}
