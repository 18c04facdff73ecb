package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
	"github.com/jogardn/bookstore-orders/pkg/models"
	"github.com/sirupsen/logrus"
)

const DefaultTopicPrefix = "order"

type KafkaProducer struct {
	producer    sarama.SyncProducer
	topicPrefix string
	logger      *logrus.Logger
}

func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	return config
}

func NewKafkaProducer(brokers []string, topicPrefix string, logger *logrus.Logger) (*KafkaProducer, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, err
	}
	return NewKafkaProducerWithClient(producer, topicPrefix, logger), nil
}

func NewKafkaProducerWithClient(producer sarama.SyncProducer, topicPrefix string, logger *logrus.Logger) *KafkaProducer {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &KafkaProducer{
		producer:    producer,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

// Topic maps an event type such as order.created to <prefix>.created.
func (p *KafkaProducer) Topic(eventType models.EventType) string {
	suffix := strings.TrimPrefix(string(eventType), "order.")
	return p.topicPrefix + "." + suffix
}

// Publish sends the event and waits for the broker acknowledgement or for
// ctx to end, whichever comes first.
func (p *KafkaProducer) Publish(ctx context.Context, event models.OrderEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic := p.Topic(event.Type)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(event.OrderID, 10)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.EventID)},
		},
	}

	// SendMessage cannot be cancelled; a stalled send is abandoned when ctx
	// ends and finishes in the background.
	type sendResult struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan sendResult, 1)
	go func() {
		partition, offset, err := p.producer.SendMessage(msg)
		done <- sendResult{partition: partition, offset: offset, err: err}
	}()

	var sent sendResult
	select {
	case sent = <-done:
	case <-ctx.Done():
		p.logger.WithFields(logrus.Fields{
			"topic":    topic,
			"order_id": event.OrderID,
		}).Warn("Gave up waiting for Kafka")
		return fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
	}
	if sent.err != nil {
		p.logger.WithError(sent.err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return sent.err
	}
	partition, offset := sent.partition, sent.offset

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  event.OrderID,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
