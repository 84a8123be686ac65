package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/maxvit/ctrader_meanrev/internal/protocol"
)

// The test clock in newTestEngine is 2026-08-28 16:00 UTC with a UTC
// location, so the session open is 14:30 UTC and a one-minute baseline
// offset targets the 14:31 bar.
func baselineTargetMin() int64 {
	return time.Date(2026, 8, 28, 14, 31, 0, 0, time.UTC).Unix() / 60
}

func TestFetchBaselineFromExactMinuteBar(t *testing.T) {
	target := baselineTargetMin()
	broker := &fakeBroker{
		bars: []protocol.Trendbar{
			{TimestampMin: target - 1, Low: 3_790_000_000, DeltaOpen: 500_000},
			{TimestampMin: target, Low: 3_799_000_000, DeltaOpen: 1_000_000},
			{TimestampMin: target + 1, Low: 3_801_000_000, DeltaOpen: 200_000},
		},
	}
	e, _, _ := newTestEngine(t, broker)

	raw, ok, err := e.fetchBaseline(context.Background(), e.clock())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3_800_000_000), raw, "open is low plus delta")
}

func TestFetchBaselineBarNotYetPublished(t *testing.T) {
	target := baselineTargetMin()
	broker := &fakeBroker{
		bars: []protocol.Trendbar{
			{TimestampMin: target - 2, Low: 3_790_000_000, DeltaOpen: 500_000},
			{TimestampMin: target - 1, Low: 3_791_000_000, DeltaOpen: 400_000},
		},
	}
	e, _, _ := newTestEngine(t, broker)

	_, ok, err := e.fetchBaseline(context.Background(), e.clock())
	require.NoError(t, err, "a lagging bar feed is not an error")
	assert.False(t, ok)
}

func TestFetchBaselineBrokerFailure(t *testing.T) {
	broker := &fakeBroker{barsErr: context.DeadlineExceeded}
	e, _, _ := newTestEngine(t, broker)

	_, _, err := e.fetchBaseline(context.Background(), e.clock())
	assert.Error(t, err)
}

func TestFetchBaselineRequiresSymbolMetadata(t *testing.T) {
	broker := &fakeBroker{}
	store := &memStore{}
	e := New(broker, store, &recordSink{}, "JP225", testConfig(), time.UTC, zap.NewNop())

	_, _, err := e.fetchBaseline(context.Background(), time.Now())
	assert.Error(t, err)
}
