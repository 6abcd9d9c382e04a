package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

const (
	// defaultPartitions gives the evaluate topic enough parallelism for the
	// worker pool's dynamic scaling to matter.
	defaultPartitions        = 8
	defaultReplicationFactor = 1
)

// Producer is the Gateway-side domain.Broker implementation: a transactional
// franz-go producer serialized behind a single-slot channel so concurrent
// Enqueue calls don't interleave transactions.
type Producer struct {
	client          *kgo.Client
	topic           string
	dlqTopic        string
	transactionChan chan struct{}
}

// NewProducer constructs a Producer against the evaluate/DLQ topics,
// creating them if they don't already exist.
func NewProducer(brokers []string, topic, dlqTopic, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=broker.NewProducer: no seed brokers provided")
	}
	if transactionalID == "" {
		transactionalID = "evaluator-gateway"
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=broker.NewProducer: %w", err)
	}

	ctx := context.Background()
	if err := ensureTopic(ctx, client, topic, defaultPartitions, defaultReplicationFactor); err != nil {
		slog.Warn("failed to ensure evaluate topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}
	if err := ensureTopic(ctx, client, dlqTopic, 1, defaultReplicationFactor); err != nil {
		slog.Warn("failed to ensure dlq topic, it may already exist", slog.String("topic", dlqTopic), slog.Any("error", err))
	}

	return &Producer{
		client:          client,
		topic:           topic,
		dlqTopic:        dlqTopic,
		transactionChan: make(chan struct{}, 1),
	}, nil
}

// Enqueue produces a WorkItem onto the evaluate topic within its own
// transaction, keyed by evaluation id for per-evaluation ordering.
func (p *Producer) Enqueue(ctx context.Context, item domain.WorkItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("op=broker.Producer.Enqueue id=%s: %w", item.EvalID, err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(item.EvalID),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "evaluation_id", Value: []byte(item.EvalID)},
		},
	}
	if err := p.produceInTransaction(ctx, record); err != nil {
		return fmt.Errorf("op=broker.Producer.Enqueue id=%s: %w", item.EvalID, err)
	}
	return nil
}

// EnqueueDLQ routes an exhausted-retry entry to the dead-letter topic.
func (p *Producer) EnqueueDLQ(ctx context.Context, entry domain.DLQEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("op=broker.Producer.EnqueueDLQ id=%s: %w", entry.EvaluationID, err)
	}
	record := &kgo.Record{
		Topic: p.dlqTopic,
		Key:   []byte(entry.EvaluationID),
		Value: payload,
	}
	if err := p.produceInTransaction(ctx, record); err != nil {
		return fmt.Errorf("op=broker.Producer.EnqueueDLQ id=%s: %w", entry.EvaluationID, err)
	}
	return nil
}

// producerBreaker guards against hammering a broker that is already down:
// once it trips, Enqueue/EnqueueDLQ fail fast instead of blocking on a
// transaction that is likely to time out anyway.
var producerBreaker = observability.GetCircuitBreaker("broker.producer", 5, 30*time.Second)

func (p *Producer) produceInTransaction(ctx context.Context, record *kgo.Record) error {
	return producerBreaker.Call(func() error {
		select {
		case p.transactionChan <- struct{}{}:
			defer func() { <-p.transactionChan }()
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := p.client.BeginTransaction(); err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		e := kgo.AbortingFirstErrPromise(p.client)
		p.client.Produce(ctx, record, e.Promise())

		if err := e.Err(); err != nil {
			if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
				slog.Error("failed to abort transaction", slog.Any("error", abortErr))
			}
			return fmt.Errorf("produce: %w", err)
		}

		if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// Close releases the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}

var _ domain.Broker = (*Producer)(nil)
