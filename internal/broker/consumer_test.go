package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConsumerRequiresBrokers(t *testing.T) {
	_, err := NewConsumer(nil, "group", "evaluate", "test", 1, 4, nil)
	assert.Error(t, err)
}

func TestNewConsumerRequiresGroupID(t *testing.T) {
	_, err := NewConsumer([]string{"localhost:9092"}, "", "evaluate", "test", 1, 4, nil)
	assert.Error(t, err)
}

func TestConsumerActiveWorkerAccounting(t *testing.T) {
	c := &Consumer{minWorkers: 2, maxWorkers: 5, activeWorkers: 2}
	assert.Equal(t, 2, c.getActive())
	c.incrementActive()
	assert.Equal(t, 3, c.getActive())
	c.decrementActive()
	c.decrementActive()
	c.decrementActive()
	assert.Equal(t, 0, c.getActive())
}

func TestAdaptivePollerBacksOffOnFailure(t *testing.T) {
	p := newAdaptivePoller(100_000_000)
	base := p.nextInterval()
	p.recordFailure()
	p.recordFailure()
	backed := p.nextInterval()
	assert.GreaterOrEqual(t, backed, base)
}

func TestAdaptivePollerSpeedsUpOnSuccess(t *testing.T) {
	p := newAdaptivePoller(100_000_000)
	p.recordFailure()
	p.recordFailure()
	slow := p.nextInterval()
	p.recordSuccess()
	p.recordSuccess()
	p.recordSuccess()
	fast := p.nextInterval()
	assert.LessOrEqual(t, fast, slow)
}
