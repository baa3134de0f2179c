package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	pkglog "github.com/juliusbiascan/EduInsight-Project-sub000/pkg/log"
)

const (
	adminTimeout = 10 * time.Second
	flushTimeout = 5 * time.Second
)

// ProducerOptions configures a ConfluentProducer.
type ProducerOptions struct {
	Brokers    string
	Topic      string
	Partitions int
	// Instance is stamped on every event so consumers can tell relays apart.
	Instance string
}

// ConfluentProducer writes observation events to one topic, keyed by device.
type ConfluentProducer struct {
	opts     ProducerOptions
	producer *kafka.Producer
	drained  chan struct{}
}

var _ ObservationEventProducer = (*ConfluentProducer)(nil)

// NewConfluentProducer connects to the brokers and makes sure the topic
// exists. A failure to create the topic is logged, not returned.
func NewConfluentProducer(opts ProducerOptions) (*ConfluentProducer, error) {
	if opts.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": opts.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	cp := &ConfluentProducer{opts: opts, producer: p, drained: make(chan struct{})}
	go cp.logFailedDeliveries()

	if err := cp.createTopic(); err != nil {
		l := pkglog.Component("kafka")
		l.Warn().Err(err).Str("topic", opts.Topic).Msg("could not create observation topic")
	}
	return cp, nil
}

func (cp *ConfluentProducer) createTopic() error {
	admin, err := kafka.NewAdminClientFromProducer(cp.producer)
	if err != nil {
		return err
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), adminTimeout)
	defer cancel()

	partitions := cp.opts.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{Topic: cp.opts.Topic, NumPartitions: partitions, ReplicationFactor: 1},
	})
	if err != nil {
		return err
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			return fmt.Errorf("topic %s: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (cp *ConfluentProducer) logFailedDeliveries() {
	defer close(cp.drained)
	l := pkglog.Component("kafka")
	for e := range cp.producer.Events() {
		m, ok := e.(*kafka.Message)
		if !ok || m.TopicPartition.Error == nil {
			continue
		}
		l.Error().Err(m.TopicPartition.Error).Bytes(pkglog.FieldDeviceID, m.Key).Msg("observation event not delivered")
	}
}

// emit is asynchronous: delivery failures surface in the log only.
func (cp *ConfluentProducer) emit(ctx context.Context, ev ObservationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.Instance = cp.opts.Instance
	ev.Timestamp = time.Now().Unix()

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal observation event: %w", err)
	}

	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &cp.opts.Topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.DeviceID),
		Value:          value,
	}
	if err := cp.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("failed to produce %s: %w", ev.Type, err)
	}
	return nil
}

func (cp *ConfluentProducer) ProduceObservationStarted(ctx context.Context, deviceID, viewerID string, viewers int) error {
	return cp.emit(ctx, ObservationEvent{
		Type:     EventObservationStarted,
		DeviceID: deviceID,
		ViewerID: viewerID,
		Viewers:  viewers,
	})
}

func (cp *ConfluentProducer) ProduceObservationStopped(ctx context.Context, deviceID, viewerID string, viewers int, reason string) error {
	return cp.emit(ctx, ObservationEvent{
		Type:     EventObservationStopped,
		DeviceID: deviceID,
		ViewerID: viewerID,
		Viewers:  viewers,
		Reason:   reason,
	})
}

func (cp *ConfluentProducer) ProduceDeviceOnline(ctx context.Context, deviceID string) error {
	return cp.emit(ctx, ObservationEvent{Type: EventDeviceOnline, DeviceID: deviceID})
}

func (cp *ConfluentProducer) ProduceDeviceOffline(ctx context.Context, deviceID, reason string) error {
	return cp.emit(ctx, ObservationEvent{Type: EventDeviceOffline, DeviceID: deviceID, Reason: reason})
}

// Close waits up to five seconds for queued events, then shuts down.
func (cp *ConfluentProducer) Close() error {
	left := cp.producer.Flush(int(flushTimeout / time.Millisecond))
	cp.producer.Close()
	<-cp.drained
	if left > 0 {
		return fmt.Errorf("kafka: %d observation events not flushed", left)
	}
	return nil
}
