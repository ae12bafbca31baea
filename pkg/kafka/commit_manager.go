package kafkautils

import (
	"sync"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"go.uber.org/zap"
)

// Committer is the subset of *kafka.Consumer the commit manager needs.
type Committer interface {
	CommitOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
}

type tp struct {
	topic     string
	partition int32
}

// CommitManager commits offsets only once every earlier offset of the partition has been acked,
// so commands finishing out of order never skip an unfinished one.
type CommitManager struct {
	mu        sync.Mutex
	committed map[tp]int64              // next offset to commit from, per partition
	acked     map[tp]map[int64]struct{} // finished offsets not yet committed
	consumer  Committer
	log       *zap.Logger
}

func NewCommitManager(c Committer, l *zap.Logger) *CommitManager {
	return &CommitManager{
		committed: make(map[tp]int64),
		acked:     make(map[tp]map[int64]struct{}),
		consumer:  c,
		log:       l,
	}
}

// Track registers the first offset seen on a partition so the contiguous window starts there.
func (m *CommitManager) Track(msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
	if _, ok := m.committed[key]; !ok {
		m.committed[key] = int64(msg.TopicPartition.Offset)
	}
}

// Reset forgets partition state, e.g. after a rebalance revoked the partition.
func (m *CommitManager) Reset(partitions []kafka.TopicPartition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range partitions {
		if p.Topic == nil {
			continue
		}
		key := tp{topic: *p.Topic, partition: p.Partition}
		delete(m.committed, key)
		delete(m.acked, key)
	}
}

// Ack marks msg finished and commits the highest contiguous offset of its partition.
func (m *CommitManager) Ack(messageID string, msg *kafka.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tp{topic: *msg.TopicPartition.Topic, partition: msg.TopicPartition.Partition}
	off := int64(msg.TopicPartition.Offset)

	base, ok := m.committed[key]
	if !ok {
		base = off
		m.committed[key] = base
	}
	if off < base {
		return // already covered by an earlier commit
	}
	if m.acked[key] == nil {
		m.acked[key] = map[int64]struct{}{}
	}
	m.acked[key][off] = struct{}{}

	next := base
	for {
		if _, ok := m.acked[key][next]; !ok {
			break
		}
		next++
	}
	if next == base {
		m.log.Debug("offset_ack_pending_gap",
			zap.String(pkg.MessageId, messageID),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("offset", off),
			zap.Int64("waiting_for", base))
		return
	}

	tpToCommit := kafka.TopicPartition{Topic: &key.topic, Partition: key.partition, Offset: kafka.Offset(next)}
	if _, err := m.consumer.CommitOffsets([]kafka.TopicPartition{tpToCommit}); err != nil {
		m.log.Error("offset_commit_failed",
			zap.String(pkg.MessageId, messageID),
			zap.String("topic", key.topic),
			zap.Int32("partition", key.partition),
			zap.Int64("attempted_offset", next), zap.Error(err))
		return
	}
	for o := base; o < next; o++ {
		delete(m.acked[key], o)
	}
	m.committed[key] = next
	m.log.Debug("offset_committed",
		zap.String(pkg.MessageId, messageID),
		zap.String("topic", key.topic),
		zap.Int32("partition", key.partition),
		zap.Int64("offset", next))
}
