package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// Handler processes one dequeued WorkItem. A non-nil error leaves the
// caller (Worker) to decide retry/DLQ routing; Consumer itself never
// retries.
type Handler func(ctx context.Context, item domain.WorkItem) error

// Consumer is the Worker-side broker reader: a transactional group session
// with a dynamically sized pool of goroutines pulling off a bounded job
// queue, so idle periods shed workers and bursts grow the pool up to a cap.
type Consumer struct {
	session *kgo.GroupTransactSession
	handler Handler
	topic   string
	groupID string

	minWorkers    int
	maxWorkers    int
	jobQueue      chan *kgo.Record
	activeWorkers int
	workerMu      sync.RWMutex
	shutdown      chan struct{}

	poller *adaptivePoller
}

// NewConsumer constructs a Consumer reading topic as part of groupID, with
// worker concurrency bounded by [minWorkers, maxWorkers].
func NewConsumer(brokers []string, groupID, topic, transactionalID string, minWorkers, maxWorkers int, handler Handler) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=broker.NewConsumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=broker.NewConsumer: missing group id")
	}
	if minWorkers <= 0 {
		minWorkers = 1
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	if transactionalID == "" {
		transactionalID = "evaluator-worker"
	}

	ctx := context.Background()
	tempClient, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("op=broker.NewConsumer: %w", err)
	}
	defer tempClient.Close()
	if err := ensureTopic(ctx, tempClient, topic, defaultPartitions, defaultReplicationFactor); err != nil {
		slog.Warn("failed to ensure topic, it may already exist", slog.String("topic", topic), slog.Any("error", err))
	}

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	session, err := kgo.NewGroupTransactSession(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.RequireStableFetchOffsets(),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.RequestTimeoutOverhead(5*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(10*time.Second),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.FetchMaxWait(10*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=broker.NewConsumer: %w", err)
	}

	return &Consumer{
		session:       session,
		handler:       handler,
		topic:         topic,
		groupID:       groupID,
		minWorkers:    minWorkers,
		maxWorkers:    maxWorkers,
		jobQueue:      make(chan *kgo.Record, maxWorkers*2),
		activeWorkers: minWorkers,
		shutdown:      make(chan struct{}),
		poller:        newAdaptivePoller(100 * time.Millisecond),
	}, nil
}

// Run starts fetching and processing until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("broker consumer starting",
		slog.String("group_id", c.groupID), slog.String("topic", c.topic),
		slog.Int("min_workers", c.minWorkers), slog.Int("max_workers", c.maxWorkers))

	for i := 0; i < c.minWorkers; i++ {
		go c.worker(ctx, i)
	}
	go c.fetchLoop(ctx)
	go c.scalingLoop(ctx)

	<-ctx.Done()
	close(c.shutdown)
	return ctx.Err()
}

func (c *Consumer) scalingLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.scale(ctx)
		}
	}
}

func (c *Consumer) scale(ctx context.Context) {
	queueLen := len(c.jobQueue)
	active := c.getActive()

	if queueLen > 0 && active < c.maxWorkers {
		toAdd := queueLen
		if toAdd > c.maxWorkers-active {
			toAdd = c.maxWorkers - active
		}
		for i := 0; i < toAdd; i++ {
			c.incrementActive()
			go c.worker(ctx, c.getActive())
		}
	}

	if active > c.minWorkers && (queueLen == 0 || active > queueLen) {
		toRemove := active - c.minWorkers
		if queueLen > 0 && active > queueLen {
			toRemove = active - queueLen
		}
		for i := 0; i < toRemove; i++ {
			if c.getActive() > c.minWorkers {
				c.decrementActive()
			}
		}
	}
}

func (c *Consumer) fetchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		default:
		}

		interval := c.poller.nextInterval()
		fetches := c.session.PollFetches(ctx)

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				if e.Err != nil {
					slog.Error("fetch error", slog.String("topic", e.Topic), slog.Int("partition", int(e.Partition)), slog.Any("error", e.Err))
				}
			}
			c.poller.recordFailure()
			time.Sleep(interval)
			continue
		}

		if fetches.NumRecords() == 0 {
			c.poller.recordSuccess()
			time.Sleep(interval)
			continue
		}
		c.poller.recordSuccess()

		fetches.EachRecord(func(record *kgo.Record) {
			select {
			case c.jobQueue <- record:
			default:
				slog.Warn("broker job queue full, processing inline", slog.String("key", string(record.Key)))
				_ = c.processRecord(ctx, record)
			}
		})
	}
}

func (c *Consumer) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case record := <-c.jobQueue:
			if record == nil {
				return
			}
			if err := c.processRecord(ctx, record); err != nil {
				slog.Error("broker worker failed to process record", slog.Int("worker_id", id), slog.Any("error", err))
			}

			active := c.getActive()
			queueLen := len(c.jobQueue)
			if active > c.minWorkers && (queueLen == 0 || active > queueLen) {
				return
			}
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) error {
	tracer := otel.Tracer("broker.consumer")
	ctx, span := tracer.Start(ctx, "broker.ProcessWorkItem")
	defer span.End()

	var item domain.WorkItem
	if err := json.Unmarshal(record.Value, &item); err != nil {
		return fmt.Errorf("op=broker.Consumer.processRecord: %w", err)
	}
	return c.handler(ctx, item)
}

func (c *Consumer) getActive() int {
	c.workerMu.RLock()
	defer c.workerMu.RUnlock()
	return c.activeWorkers
}

func (c *Consumer) incrementActive() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	c.activeWorkers++
}

func (c *Consumer) decrementActive() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()
	if c.activeWorkers > 0 {
		c.activeWorkers--
	}
}

// Close releases the underlying transactional session.
func (c *Consumer) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return nil
}
