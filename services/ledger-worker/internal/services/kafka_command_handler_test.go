package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/configs"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProducer struct {
	mu        sync.Mutex
	produced  []*kafka.Message
	failTopic string
	failures  int // remaining delivery failures for failTopic, -1 for always
	unwatched int // messages produced without a delivery channel
}

func (f *fakeProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	report := *msg
	if *msg.TopicPartition.Topic == f.failTopic && f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		report.TopicPartition.Error = errors.New("broker: not enough replicas")
	} else {
		f.produced = append(f.produced, msg)
	}
	if deliveryChan == nil {
		f.unwatched++
		return nil
	}
	deliveryChan <- &report
	return nil
}

func (f *fakeProducer) Flush(int) int { return 0 }
func (f *fakeProducer) Close()        {}

func (f *fakeProducer) sent(topic string) []*kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*kafka.Message
	for _, m := range f.produced {
		if *m.TopicPartition.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

type fakeAcker struct {
	mu    sync.Mutex
	acked []kafka.Offset
}

func (f *fakeAcker) Track(*kafka.Message) {}
func (f *fakeAcker) Ack(_ string, msg *kafka.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msg.TopicPartition.Offset)
}
func (f *fakeAcker) Reset([]kafka.TopicPartition) {}

type processorFunc func(ctx context.Context, body []byte, correlationID string) Envelope

func (p processorFunc) Handle(ctx context.Context, body []byte, correlationID string) Envelope {
	return p(ctx, body, correlationID)
}

func newTestHandler(processor CommandProcessor, producer *fakeProducer, acker *fakeAcker) *KafkaCommandConfig {
	k := &KafkaCommandConfig{
		Context: context.Background(),
		Logger:  zap.NewNop(),
		Config: &configs.Config{
			KafkaReplyTopic:        "ledger-replies",
			KafkaDLQTopic:          "ledger-replies-dlq",
			MaxConcurrentCommands:  2,
			ReplyPublishMaxElapsed: 50 * time.Millisecond,
		},
		Processor: processor,
		producer:  producer,
		acker:     acker,
	}
	k.init()
	return k
}

func commandMessage(offset int64, headers ...kafka.Header) *kafka.Message {
	topic := "ledger-commands"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: 0, Offset: kafka.Offset(offset)},
		Key:            []byte("key-1"),
		Value:          []byte(`{"type":"GetBalance","accountId":"CU001"}`),
		Headers:        headers,
	}
}

func echoProcessor(ok bool) processorFunc {
	return func(_ context.Context, _ []byte, correlationID string) Envelope {
		if !ok {
			return Envelope{Ok: false, Status: StatusError, Error: &pkg.ErrorBody{Code: "INSUFFICIENT_FUNDS", Message: "INSUFFICIENT_FUNDS"}, CorrelationID: correlationID}
		}
		return Envelope{Ok: true, Status: StatusOK, Data: map[string]string{"balance": "2500.00"}, CorrelationID: correlationID}
	}
}

func TestProcessMessage_RepliesToReplyToHeader(t *testing.T) {
	producer, acker := &fakeProducer{}, &fakeAcker{}
	k := newTestHandler(echoProcessor(true), producer, acker)

	k.processMessage(commandMessage(7,
		kafka.Header{Key: pkg.HeaderCorrelationId, Value: []byte("corr-9")},
		kafka.Header{Key: pkg.HeaderReplyTo, Value: []byte("client-replies")},
		kafka.Header{Key: pkg.HeaderTraceId, Value: []byte("trace-1")},
	))

	replies := producer.sent("client-replies")
	require.Len(t, replies, 1)
	assert.Equal(t, "corr-9", string(replies[0].Key))
	assert.Contains(t, replies[0].Headers, kafka.Header{Key: pkg.HeaderCorrelationId, Value: []byte("corr-9")})
	assert.Contains(t, replies[0].Headers, kafka.Header{Key: pkg.HeaderTraceId, Value: []byte("trace-1")})

	var env map[string]any
	require.NoError(t, json.Unmarshal(replies[0].Value, &env))
	assert.Equal(t, true, env["ok"])
	assert.Equal(t, "corr-9", env["correlationId"])
	assert.Equal(t, []kafka.Offset{7}, acker.acked)
}

func TestProcessMessage_BusinessFailureIsStillAcked(t *testing.T) {
	producer, acker := &fakeProducer{}, &fakeAcker{}
	k := newTestHandler(echoProcessor(false), producer, acker)

	k.processMessage(commandMessage(3))

	replies := producer.sent("ledger-replies")
	require.Len(t, replies, 1)
	assert.Equal(t, "key-1", string(replies[0].Key), "correlation falls back to the message key")
	var env Envelope
	require.NoError(t, json.Unmarshal(replies[0].Value, &env))
	assert.False(t, env.Ok)
	assert.Equal(t, "INSUFFICIENT_FUNDS", env.Error.Message)
	assert.Equal(t, []kafka.Offset{3}, acker.acked)
}

func TestProcessMessage_RetriesReplyPublish(t *testing.T) {
	producer := &fakeProducer{failTopic: "ledger-replies", failures: 1}
	acker := &fakeAcker{}
	k := newTestHandler(echoProcessor(true), producer, acker)
	k.Config.ReplyPublishMaxElapsed = 5 * time.Second

	k.processMessage(commandMessage(1))

	assert.Len(t, producer.sent("ledger-replies"), 1)
	assert.Empty(t, producer.sent("ledger-replies-dlq"))
	assert.Equal(t, []kafka.Offset{1}, acker.acked)
}

func TestProcessMessage_UndeliverableReplyGoesToDLQ(t *testing.T) {
	producer := &fakeProducer{failTopic: "ledger-replies", failures: -1}
	acker := &fakeAcker{}
	k := newTestHandler(echoProcessor(true), producer, acker)

	k.processMessage(commandMessage(5))

	dlq := producer.sent("ledger-replies-dlq")
	require.Len(t, dlq, 1)
	assert.Contains(t, dlq[0].Headers, kafka.Header{Key: pkg.HeaderDLQReason, Value: []byte("reply_publish_failed")})
	var payload map[string]any
	require.NoError(t, json.Unmarshal(dlq[0].Value, &payload))
	assert.Equal(t, "reply_publish_failed", payload["failure_reason"])
	assert.Equal(t, true, payload["reply"].(map[string]any)["ok"])
	assert.Equal(t, []kafka.Offset{5}, acker.acked, "the mutation is committed, so the delivery is acked")
	assert.Zero(t, producer.unwatched, "every delivery report is consumed by its producer call")
}

func TestSendToDLQ_DeliveryFailureIsNotCounted(t *testing.T) {
	producer := &fakeProducer{failTopic: "ledger-replies-dlq", failures: -1}
	k := newTestHandler(echoProcessor(true), producer, &fakeAcker{})
	before := testutil.ToFloat64(observability.DLQPublished.WithLabelValues("reply_publish_failed"))

	k.sendToDLQ(commandMessage(9), []byte(`{"ok":true}`), "reply_publish_failed", "broker down")

	assert.Empty(t, producer.sent("ledger-replies-dlq"))
	assert.Zero(t, producer.unwatched)
	assert.Equal(t, before, testutil.ToFloat64(observability.DLQPublished.WithLabelValues("reply_publish_failed")))
}

func TestProcessMessage_PanicLeavesDeliveryUnacked(t *testing.T) {
	producer, acker := &fakeProducer{}, &fakeAcker{}
	k := newTestHandler(processorFunc(func(context.Context, []byte, string) Envelope {
		panic("router bug")
	}), producer, acker)

	assert.NotPanics(t, func() { k.processMessage(commandMessage(2)) })
	assert.Empty(t, producer.produced)
	assert.Empty(t, acker.acked)
}

func TestProcessMessage_RoutesThroughRouter(t *testing.T) {
	router, store := newTestRouter(t, nil)
	producer, acker := &fakeProducer{}, &fakeAcker{}
	k := newTestHandler(router, producer, acker)

	msg := commandMessage(11, kafka.Header{Key: pkg.HeaderCorrelationId, Value: []byte("corr-1")})
	msg.Value = []byte(`{"type":"Deposit","messageId":"m1","accountId":"CU001","amount":"150.00"}`)
	k.processMessage(msg)
	k.processMessage(msg) // redelivery

	replies := producer.sent("ledger-replies")
	require.Len(t, replies, 2)
	var first, second Envelope
	require.NoError(t, json.Unmarshal(replies[0].Value, &first))
	require.NoError(t, json.Unmarshal(replies[1].Value, &second))
	assert.True(t, first.Ok)
	assert.Equal(t, "2650.00", first.Data.(map[string]any)["newBalance"])
	assert.Equal(t, true, second.Data.(map[string]any)["duplicate"])
	assert.Equal(t, "2650.00", store.balance("CU001"))
	assert.Len(t, acker.acked, 2)
}
