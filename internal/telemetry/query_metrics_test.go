package telemetry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircularBuffer_MaintainsCapacity(t *testing.T) {
	buf := NewCircularBuffer[string](3)

	for i := 1; i <= 5; i++ {
		buf.Add(fmt.Sprintf("query%d", i))
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"query3", "query4", "query5"}, buf.Items())
}

func TestCircularBuffer_EmptyItems(t *testing.T) {
	buf := NewCircularBuffer[int](0)

	assert.Empty(t, buf.Items())
	assert.NotNil(t, buf.Items())
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want LatencyBucket
	}{
		{5 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{75 * time.Millisecond, BucketP100},
		{499 * time.Millisecond, BucketP500},
		{2 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.d), tt.d.String())
	}
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"tlp", "header", "format"}, ExtractTerms("TLP header of format"))
	assert.Empty(t, ExtractTerms("  "))
}

func TestQueryLog_Record(t *testing.T) {
	// Given: a fresh query log
	log := NewQueryLog(QueryLogConfig{})

	// When: recording a mix of queries
	log.Record(QueryEvent{Query: "ltssm recovery", ResultCount: 3, Latency: 5 * time.Millisecond})
	log.Record(QueryEvent{Query: "LTSSM Recovery ", ResultCount: 2, Latency: 20 * time.Millisecond})
	log.Record(QueryEvent{Query: "flit mode crc", ResultCount: 0, Latency: 200 * time.Millisecond})
	log.RecordTier("high")
	log.RecordTier("high")

	// Then: the snapshot aggregates them
	s := log.Snapshot()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Equal(t, int64(2), s.TierCounts["high"])
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"flit mode crc"}, s.ZeroResultQueries)
	assert.Equal(t, int64(1), s.ExactRepeatCount, "case and whitespace are normalised")
	assert.Equal(t, int64(1), s.LatencyDistribution[BucketP500])
	assert.InDelta(t, 33.33, s.ZeroResultPercentage(), 0.01)

	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, TermCount{Term: "ltssm", Count: 2}, s.TopTerms[0])
}

func TestQueryLog_TopTermsEviction(t *testing.T) {
	log := NewQueryLog(QueryLogConfig{TopTermsCapacity: 2})

	log.Record(QueryEvent{Query: "aaa"})
	log.Record(QueryEvent{Query: "bbb"})
	log.Record(QueryEvent{Query: "ccc"})

	terms := log.Snapshot().TopTerms
	require.Len(t, terms, 2)
	assert.NotContains(t, []string{terms[0].Term, terms[1].Term}, "aaa")
}

func TestQueryLog_ConcurrentRecord(t *testing.T) {
	log := NewQueryLog(DefaultQueryLogConfig())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				log.Record(QueryEvent{Query: fmt.Sprintf("query %d", i), ResultCount: j % 2})
			}
		}(i)
	}
	wg.Wait()

	s := log.Snapshot()
	assert.Equal(t, int64(1000), s.TotalQueries)
	assert.Equal(t, int64(500), s.ZeroResultCount)
}
