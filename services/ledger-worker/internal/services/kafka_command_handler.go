package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	kafkautils "github.com/nimeshabuddhika/ledger-command-processor/pkg/kafka"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg/utils"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/configs"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/observability"
	"go.uber.org/zap"
)

const (
	readTimeout     = 100 * time.Millisecond
	readBackoffBase = 100 * time.Millisecond
	readBackoffMax  = 5 * time.Second
	flushTimeoutMs  = 5000
)

// KafkaCommandHandler consumes commands and publishes one reply per command.
type KafkaCommandHandler interface {
	Start() func()
}

// ReplyProducer is the subset of *kafka.Producer used for replies and the DLQ.
type ReplyProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// Acker acknowledges finished deliveries. *kafkautils.CommitManager implements it.
type Acker interface {
	Track(msg *kafka.Message)
	Ack(messageID string, msg *kafka.Message)
	Reset(partitions []kafka.TopicPartition)
}

// KafkaCommandConfig holds configuration and dependencies for the command consumer.
type KafkaCommandConfig struct {
	Context   context.Context
	Logger    *zap.Logger
	Config    *configs.Config
	Processor CommandProcessor

	// internal initialization
	consumer *kafka.Consumer
	producer ReplyProducer
	acker    Acker
	slots    chan struct{} // bounds in-flight commands; the read loop blocks when full
	inflight *sync.WaitGroup
	done     chan struct{}
}

// NewKafkaCommandConsumer sets up the consumer, the reply producer and the commit manager.
func NewKafkaCommandConsumer(cfg KafkaCommandConfig) (KafkaCommandHandler, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"group.id":           cfg.Config.KafkaCommandConsumerGroup,
		"auto.offset.reset":  "earliest",
		"enable.auto.commit": false, // offsets are committed by the commit manager
	})
	if err != nil {
		return nil, fmt.Errorf("create command consumer: %w", err)
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.Config.KafkaBrokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("create reply producer: %w", err)
	}

	cfg.consumer = consumer
	cfg.producer = producer
	cfg.acker = kafkautils.NewCommitManager(consumer, cfg.Logger)
	cfg.init()
	return &cfg, nil
}

func (k *KafkaCommandConfig) init() {
	k.slots = make(chan struct{}, k.Config.MaxConcurrentCommands)
	k.inflight = &sync.WaitGroup{}
	k.done = make(chan struct{})
}

// Start runs the read loop until Context is cancelled and returns a cleanup function.
// Cancel Context before calling the cleanup function.
func (k *KafkaCommandConfig) Start() func() {
	err := k.consumer.SubscribeTopics([]string{k.Config.KafkaCommandTopic}, k.onRebalance)
	if err != nil {
		k.Logger.Fatal("failed_to_subscribe_command_topic", zap.Error(err))
	}
	k.Logger.Info("listening_to_command_topic",
		zap.String("topic", k.Config.KafkaCommandTopic),
		zap.String("group", k.Config.KafkaCommandConsumerGroup),
		zap.Int("max_concurrent", k.Config.MaxConcurrentCommands))

	go k.readLoop()

	return func() {
		<-k.done
		k.inflight.Wait()
		if remaining := k.producer.Flush(flushTimeoutMs); remaining > 0 {
			k.Logger.Warn("reply_producer_flush_incomplete", zap.Int("remaining", remaining))
		}
		k.producer.Close()
		if err := k.consumer.Close(); err != nil {
			k.Logger.Error("failed_to_close_command_consumer", zap.Error(err))
		}
		k.Logger.Info("command_consumer_closed")
	}
}

func (k *KafkaCommandConfig) onRebalance(_ *kafka.Consumer, event kafka.Event) error {
	if revoked, ok := event.(kafka.RevokedPartitions); ok {
		k.Logger.Info("command_partitions_revoked", zap.Int("count", len(revoked.Partitions)))
		k.acker.Reset(revoked.Partitions)
	}
	return nil
}

func (k *KafkaCommandConfig) readLoop() {
	defer close(k.done)
	failures := 0
	for {
		select {
		case <-k.Context.Done():
			return
		default:
		}

		msg, err := k.consumer.ReadMessage(readTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.IsTimeout() {
				continue
			}
			failures++
			delay := utils.ExponentialBackoffWithJitter(failures, readBackoffBase, readBackoffMax)
			k.Logger.Error("failed_to_read_command", zap.Error(err), zap.Duration("retry_in", delay))
			time.Sleep(delay)
			continue
		}
		failures = 0
		observability.CommandsReceived.WithLabelValues(topicOf(msg)).Inc()
		k.acker.Track(msg)

		select {
		case k.slots <- struct{}{}:
		case <-k.Context.Done():
			return // not acked, redelivered to the next owner
		}
		k.inflight.Add(1)
		go func(m *kafka.Message) {
			defer k.inflight.Done()
			defer func() { <-k.slots }()
			observability.InflightCommands.Inc()
			defer observability.InflightCommands.Dec()
			k.processMessage(m)
		}(msg)
	}
}

// processMessage routes one command and publishes its reply. The delivery is acked whatever the business
// outcome; only a fault before the reply exists leaves it unacked for redelivery.
func (k *KafkaCommandConfig) processMessage(msg *kafka.Message) {
	correlationID := kafkautils.HeaderValue(msg.Headers, pkg.HeaderCorrelationId)
	if correlationID == "" {
		correlationID = string(msg.Key)
	}
	replyTo := kafkautils.HeaderValue(msg.Headers, pkg.HeaderReplyTo)
	if replyTo == "" {
		replyTo = k.Config.KafkaReplyTopic
	}
	traceID := kafkautils.HeaderValue(msg.Headers, pkg.HeaderTraceId)
	log := k.Logger.With(
		zap.String(pkg.CorrelationId, correlationID),
		zap.String(pkg.TraceId, traceID),
		zap.String("topic", topicOf(msg)),
		zap.Int32("partition", msg.TopicPartition.Partition),
		zap.Int64("offset", int64(msg.TopicPartition.Offset)))

	defer func() {
		if p := recover(); p != nil {
			observability.RepliesUnacked.Inc()
			log.Error("command_left_unacked", zap.Any("panic", p))
		}
	}()

	// in-flight commands finish during shutdown
	ctx := context.WithoutCancel(k.Context)
	env := k.Processor.Handle(ctx, msg.Value, correlationID)
	reply, err := json.Marshal(env)
	if err != nil {
		observability.RepliesUnacked.Inc()
		log.Error("failed_to_encode_reply", zap.Error(err))
		return
	}

	if err := k.publishReply(replyTo, correlationID, traceID, reply); err != nil {
		log.Error("failed_to_publish_reply_sending_to_dlq", zap.String("reply_to", replyTo), zap.Error(err))
		k.sendToDLQ(msg, reply, "reply_publish_failed", err.Error())
	}
	k.acker.Ack(correlationID, msg)
	log.Debug("command_acked", zap.Bool("ok", env.Ok))
}

func (k *KafkaCommandConfig) publishReply(topic, correlationID, traceID string, reply []byte) error {
	headers := []kafka.Header{{Key: pkg.HeaderCorrelationId, Value: []byte(correlationID)}}
	if traceID != "" {
		headers = append(headers, kafka.Header{Key: pkg.HeaderTraceId, Value: []byte(traceID)})
	}
	operation := func() error {
		delivery := make(chan kafka.Event, 1)
		err := k.producer.Produce(&kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
			Key:            []byte(correlationID),
			Value:          reply,
			Headers:        headers,
		}, delivery)
		if err != nil {
			return err
		}
		report, ok := (<-delivery).(*kafka.Message)
		if !ok {
			return errors.New("unexpected delivery event")
		}
		return report.TopicPartition.Error
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = k.Config.ReplyPublishMaxElapsed
	return backoff.Retry(operation, b)
}

func (k *KafkaCommandConfig) sendToDLQ(original *kafka.Message, reply []byte, reason, errMsg string) {
	payload := map[string]any{
		"original_topic":     topicOf(original),
		"original_partition": original.TopicPartition.Partition,
		"original_offset":    original.TopicPartition.Offset,
		"command":            string(original.Value),
		"reply":              json.RawMessage(reply),
		"failure_reason":     reason,
		"error":              errMsg,
		"failed_at":          time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(payload)

	headers := append([]kafka.Header{}, original.Headers...)
	delivery := make(chan kafka.Event, 1)
	err := k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.Config.KafkaDLQTopic, Partition: kafka.PartitionAny},
		Key:            original.Key,
		Value:          b,
		Headers:        append(headers, kafka.Header{Key: pkg.HeaderDLQReason, Value: []byte(reason)}),
	}, delivery)
	if err == nil {
		if report, ok := (<-delivery).(*kafka.Message); ok {
			err = report.TopicPartition.Error
		} else {
			err = errors.New("unexpected delivery event")
		}
	}
	if err != nil {
		k.Logger.Error("failed_to_produce_to_dlq", zap.String("reason", reason), zap.Error(err))
		return
	}
	observability.DLQPublished.WithLabelValues(reason).Inc()
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}
