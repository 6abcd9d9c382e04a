package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordEvaluationSubmitted(t *testing.T) {
	before := testutil.ToFloat64(EvaluationsSubmittedTotal)
	RecordEvaluationSubmitted()
	assert.Equal(t, before+1, testutil.ToFloat64(EvaluationsSubmittedTotal))
}

func TestRecordEvaluationFailedByStatus(t *testing.T) {
	before := testutil.ToFloat64(EvaluationsFailedTotal.WithLabelValues("cancelled"))
	RecordEvaluationFailed("cancelled")
	assert.Equal(t, before+1, testutil.ToFloat64(EvaluationsFailedTotal.WithLabelValues("cancelled")))
}

func TestObserveDispatcherExecuteRecordsSample(t *testing.T) {
	beforeCount := testutil.CollectAndCount(DispatcherExecuteDuration)
	ObserveDispatcherExecute(0.25, "success")
	assert.GreaterOrEqual(t, testutil.CollectAndCount(DispatcherExecuteDuration), beforeCount)
}

func TestRecordRetryByReason(t *testing.T) {
	before := testutil.ToFloat64(RetryTotal.WithLabelValues("quota"))
	RecordRetry("quota")
	assert.Equal(t, before+1, testutil.ToFloat64(RetryTotal.WithLabelValues("quota")))
}

func TestSetDLQDepth(t *testing.T) {
	SetDLQDepth(7)
	assert.Equal(t, float64(7), testutil.ToFloat64(DLQDepth))
}
