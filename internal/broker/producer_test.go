package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "evaluate", "evaluate-dlq", "test")
	assert.Error(t, err)
}

func TestProducerTransactionChannelSerializes(t *testing.T) {
	p := &Producer{transactionChan: make(chan struct{}, 1)}

	select {
	case p.transactionChan <- struct{}{}:
	default:
		t.Fatal("expected to acquire transaction slot")
	}

	select {
	case p.transactionChan <- struct{}{}:
		t.Fatal("expected transaction slot to be held")
	default:
	}

	<-p.transactionChan
	select {
	case p.transactionChan <- struct{}{}:
	default:
		t.Fatal("expected slot to be released")
	}
}
