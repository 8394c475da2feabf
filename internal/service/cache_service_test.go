package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/counseling-booking-api/pkg/errors"
)

type cacheRepoStub struct {
	getErr     error
	setErr     error
	deleteErr  error
	lastTTL    time.Duration
	lastKey    string
	deleted    []string
	setCalls   int
	getPayload string
	counter    int64
	incrErr    error
}

func (s *cacheRepoStub) Get(ctx context.Context, key string, dest interface{}) error {
	s.lastKey = key
	if s.getErr != nil {
		return s.getErr
	}
	switch out := dest.(type) {
	case *string:
		*out = s.getPayload
	case *int64:
		*out = s.counter
	}
	return nil
}

func (s *cacheRepoStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.setCalls++
	s.lastKey = key
	s.lastTTL = ttl
	return s.setErr
}

func (s *cacheRepoStub) DeleteByPattern(ctx context.Context, pattern string) error {
	s.deleted = append(s.deleted, pattern)
	return s.deleteErr
}

func (s *cacheRepoStub) Incr(ctx context.Context, key string) (int64, error) {
	s.lastKey = key
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	s.counter++
	return s.counter, nil
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	repo := &cacheRepoStub{}
	svc := NewCacheService(repo, nil, 0, nil, false)

	hit, err := svc.Get(context.Background(), "k", new(string))
	require.NoError(t, err)
	assert.False(t, hit)
	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	require.NoError(t, svc.Invalidate(context.Background(), "*"))
	require.NoError(t, svc.BumpGeneration(context.Background(), AvailabilityGenerationKey))
	generation, err := svc.Generation(context.Background(), AvailabilityGenerationKey)
	require.NoError(t, err)
	assert.Zero(t, generation)
	assert.Zero(t, repo.setCalls)
	assert.Zero(t, repo.counter)
	assert.Empty(t, repo.deleted)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
}

func TestCacheServiceHitMissAndMetrics(t *testing.T) {
	metrics := NewMetricsService()
	repo := &cacheRepoStub{getPayload: "cached"}
	svc := NewCacheService(repo, metrics, 0, nil, true)
	ctx := context.Background()

	var out string
	hit, err := svc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached", out)

	repo.getErr = appErrors.ErrCacheMiss
	hit, err = svc.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	repo.getErr = errors.New("redis down")
	_, err = svc.Get(ctx, "k", &out)
	assert.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.cacheMisses))
}

func TestCacheServiceSetUsesDefaultTTL(t *testing.T) {
	repo := &cacheRepoStub{}
	svc := NewCacheService(repo, nil, 0, nil, true)

	require.NoError(t, svc.Set(context.Background(), "k", "v", 0))
	assert.Equal(t, time.Minute, repo.lastTTL)

	require.NoError(t, svc.Set(context.Background(), "k", "v", 5*time.Second))
	assert.Equal(t, 5*time.Second, repo.lastTTL)
}

func TestCacheServiceInvalidate(t *testing.T) {
	repo := &cacheRepoStub{}
	svc := NewCacheService(repo, nil, time.Minute, nil, true)

	require.NoError(t, svc.Invalidate(context.Background(), AvailabilityPattern()))
	assert.Equal(t, []string{"slots:available:*"}, repo.deleted)

	repo.deleteErr = errors.New("scan failed")
	assert.Error(t, svc.Invalidate(context.Background(), AvailabilityPattern()))
}

func TestCacheServiceGeneration(t *testing.T) {
	repo := &cacheRepoStub{getErr: appErrors.ErrCacheMiss}
	svc := NewCacheService(repo, nil, time.Minute, nil, true)
	ctx := context.Background()

	generation, err := svc.Generation(ctx, AvailabilityGenerationKey)
	require.NoError(t, err)
	assert.Zero(t, generation)

	repo.getErr = nil
	require.NoError(t, svc.BumpGeneration(ctx, AvailabilityGenerationKey))
	require.NoError(t, svc.BumpGeneration(ctx, AvailabilityGenerationKey))
	generation, err = svc.Generation(ctx, AvailabilityGenerationKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), generation)
	assert.Equal(t, AvailabilityGenerationKey, repo.lastKey)

	repo.getErr = errors.New("redis down")
	_, err = svc.Generation(ctx, AvailabilityGenerationKey)
	assert.Error(t, err)
	repo.incrErr = errors.New("redis down")
	assert.Error(t, svc.BumpGeneration(ctx, AvailabilityGenerationKey))
}

func TestAvailabilityKey(t *testing.T) {
	from := time.Unix(1700000000, 0)
	to := time.Unix(1700003600, 0)

	assert.Equal(t, "slots:available:0:all:1700000000000000000:1700003600000000000:0", AvailabilityKey(0, "", from, to, 0))
	assert.Equal(t, "slots:available:3:c1:1700000000000000000:1700003600000000000:50", AvailabilityKey(3, "c1", from, to, 50))
	assert.NotEqual(t, AvailabilityKey(0, "c1", from, to, 0), AvailabilityKey(0, "c1", from.Add(500*time.Millisecond), to, 0))
	assert.NotEqual(t, AvailabilityKey(0, "c1", from, to, 0), AvailabilityKey(1, "c1", from, to, 0))
	assert.NotContains(t, AvailabilityGenerationKey, "slots:available:")
}
