package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeCluster struct{ err error }

func (c fakeCluster) ResourceQuota(context.Context) (*domain.Quota, error) { return nil, c.err }
func (c fakeCluster) ImageCatalog(context.Context) ([]domain.CatalogImage, error) {
	return nil, nil
}
func (c fakeCluster) IsolationRuntimeAvailable(context.Context) (bool, error) { return true, nil }
func (c fakeCluster) CreateJob(context.Context, domain.JobSpec) error         { return nil }
func (c fakeCluster) DeleteJob(context.Context, string) error                { return nil }
func (c fakeCluster) JobStatus(context.Context, string) (domain.JobCounters, error) {
	return domain.JobCounters{}, nil
}
func (c fakeCluster) JobLogs(context.Context, string, int) (string, *int, error) {
	return "", nil, nil
}
func (c fakeCluster) Watch(context.Context) (<-chan domain.JobEvent, error) { return nil, nil }

func TestBuildReadinessChecksReportsUnconfiguredDependencies(t *testing.T) {
	dbCheck, redisCheck, clusterCheck := BuildReadinessChecks(nil, nil, nil)
	assert.Error(t, dbCheck(context.Background()))
	assert.Error(t, redisCheck(context.Background()))
	assert.Error(t, clusterCheck(context.Background()))
}

func TestBuildReadinessChecksDBCheckDelegatesToPool(t *testing.T) {
	dbCheck, _, _ := BuildReadinessChecks(fakePinger{err: errors.New("down")}, nil, nil)
	assert.EqualError(t, dbCheck(context.Background()), "down")
}

func TestBuildReadinessChecksClusterCheckDelegatesToResourceQuota(t *testing.T) {
	_, _, clusterCheck := BuildReadinessChecks(nil, nil, fakeCluster{})
	assert.NoError(t, clusterCheck(context.Background()))
}
