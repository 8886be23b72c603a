// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInMemoryCollector(t *testing.T) {
	collector := NewInMemoryCollector()

	require.NotNil(t, collector)
	assert.NotNil(t, collector.requestsByPath)
	assert.NotNil(t, collector.responsesByExit)
	assert.NotNil(t, collector.responseTimes)
	assert.NotNil(t, collector.responseTimeByPath)
	assert.NotNil(t, collector.errorsByType)
	assert.NotNil(t, collector.errorsByPath)
	assert.False(t, collector.startTime.IsZero())
}

func TestInMemoryCollector_RecordRequest(t *testing.T) {
	collector := NewInMemoryCollector()

	collector.RecordRequest("sbatch", "12345")
	collector.RecordRequest("sacct", "12345")
	collector.RecordRequest("sbatch", "12345") // duplicate

	stats := collector.GetStats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(3), stats.ActiveRequests)
	assert.Equal(t, int64(2), stats.RequestsByPath["sbatch 12345"])
	assert.Equal(t, int64(1), stats.RequestsByPath["sacct 12345"])
}

func TestInMemoryCollector_RecordResponse(t *testing.T) {
	collector := NewInMemoryCollector()

	collector.RecordRequest("sbatch", "12345")
	collector.RecordRequest("sacct", "12345")

	collector.RecordResponse("sbatch", "12345", 0, 100*time.Millisecond)
	collector.RecordResponse("sacct", "12345", 0, 200*time.Millisecond)

	stats := collector.GetStats()
	assert.Equal(t, int64(2), stats.TotalResponses)
	assert.Equal(t, int64(0), stats.ActiveRequests) // Both completed
	assert.Equal(t, int64(2), stats.ResponsesByExit[0])

	assert.Equal(t, int64(2), stats.ResponseTimeStats.Count)
	assert.Equal(t, 300*time.Millisecond, stats.ResponseTimeStats.Total)
	assert.Equal(t, 100*time.Millisecond, stats.ResponseTimeStats.Min)
	assert.Equal(t, 200*time.Millisecond, stats.ResponseTimeStats.Max)
	assert.Equal(t, 150*time.Millisecond, stats.ResponseTimeStats.Average)

	sbatchStats := stats.ResponseTimeByPath["sbatch 12345"]
	assert.Equal(t, int64(1), sbatchStats.Count)
	assert.Equal(t, 100*time.Millisecond, sbatchStats.Total)
	assert.Equal(t, 100*time.Millisecond, sbatchStats.Average)

	sacctStats := stats.ResponseTimeByPath["sacct 12345"]
	assert.Equal(t, int64(1), sacctStats.Count)
	assert.Equal(t, 200*time.Millisecond, sacctStats.Total)
	assert.Equal(t, 200*time.Millisecond, sacctStats.Average)
}

func TestInMemoryCollector_RecordError(t *testing.T) {
	collector := NewInMemoryCollector()

	collector.RecordRequest("sbatch", "12345")
	collector.RecordRequest("scancel", "12345")

	err1 := errors.New("connection timeout")
	err2 := errors.New("invalid partition")

	collector.RecordError("sbatch", "12345", err1)
	collector.RecordError("scancel", "12345", err2)
	collector.RecordError("sbatch", "12345", err1) // duplicate error type

	stats := collector.GetStats()
	assert.Equal(t, int64(3), stats.TotalErrors)
	assert.Equal(t, int64(-1), stats.ActiveRequests) // One extra error recorded
	assert.Equal(t, int64(2), stats.ErrorsByType["connection timeout"])
	assert.Equal(t, int64(1), stats.ErrorsByType["invalid partition"])
	assert.Equal(t, int64(2), stats.ErrorsByPath["sbatch 12345"])
	assert.Equal(t, int64(1), stats.ErrorsByPath["scancel 12345"])
}

func TestInMemoryCollector_RecordErrorWithNil(t *testing.T) {
	collector := NewInMemoryCollector()

	collector.RecordRequest("sbatch", "12345")
	collector.RecordError("sbatch", "12345", nil)

	stats := collector.GetStats()
	assert.Equal(t, int64(1), stats.TotalErrors)
	assert.Equal(t, int64(1), stats.ErrorsByType["unknown"])
}

func TestInMemoryCollector_Reset(t *testing.T) {
	collector := NewInMemoryCollector()

	collector.RecordRequest("sbatch", "12345")
	collector.RecordResponse("sbatch", "12345", 0, 100*time.Millisecond)
	collector.RecordError("scancel", "12345", errors.New("test error"))

	stats := collector.GetStats()
	assert.Positive(t, stats.TotalRequests)
	assert.Positive(t, stats.TotalResponses)
	assert.Positive(t, stats.TotalErrors)

	collector.Reset()

	stats = collector.GetStats()
	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.ActiveRequests)
	assert.Equal(t, int64(0), stats.TotalResponses)
	assert.Equal(t, int64(0), stats.TotalErrors)
	assert.Empty(t, stats.RequestsByPath)
	assert.Empty(t, stats.ResponsesByExit)
	assert.Empty(t, stats.ErrorsByType)
	assert.Empty(t, stats.ErrorsByPath)
	assert.Empty(t, stats.ResponseTimeByPath)
	assert.Equal(t, int64(0), stats.ResponseTimeStats.Count)
}

func TestDurationAggregator(t *testing.T) {
	agg := newDurationAggregator()

	t.Run("initial state", func(t *testing.T) {
		stats := agg.stats()
		assert.Equal(t, int64(0), stats.Count)
		assert.Equal(t, time.Duration(0), stats.Total)
		assert.Equal(t, time.Duration(0), stats.Min)
		assert.Equal(t, time.Duration(0), stats.Max)
		assert.Equal(t, time.Duration(0), stats.Average)
	})

	t.Run("single value", func(t *testing.T) {
		agg.add(100 * time.Millisecond)

		stats := agg.stats()
		assert.Equal(t, int64(1), stats.Count)
		assert.Equal(t, 100*time.Millisecond, stats.Total)
		assert.Equal(t, 100*time.Millisecond, stats.Min)
		assert.Equal(t, 100*time.Millisecond, stats.Max)
		assert.Equal(t, 100*time.Millisecond, stats.Average)
	})

	t.Run("multiple values", func(t *testing.T) {
		agg.add(200 * time.Millisecond)
		agg.add(50 * time.Millisecond)

		stats := agg.stats()
		assert.Equal(t, int64(3), stats.Count)
		assert.Equal(t, 350*time.Millisecond, stats.Total)
		assert.Equal(t, 50*time.Millisecond, stats.Min)
		assert.Equal(t, 200*time.Millisecond, stats.Max)
		expected := time.Duration(350000000 / 3) // 116.666666ms
		assert.Equal(t, expected, stats.Average)
	})
}

func TestDurationAggregator_Concurrency(t *testing.T) {
	agg := newDurationAggregator()

	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup

	for i := range numGoroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range numOperations {
				agg.add(time.Duration(id*numOperations+j) * time.Millisecond)
			}
		}(i)
	}

	wg.Wait()

	stats := agg.stats()
	assert.Equal(t, int64(numGoroutines*numOperations), stats.Count)
	assert.Greater(t, stats.Total, time.Duration(0))
	assert.Greater(t, stats.Max, stats.Min)
	assert.Greater(t, stats.Average, time.Duration(0))
}

func TestInMemoryCollector_Concurrency(t *testing.T) {
	collector := NewInMemoryCollector()

	const numGoroutines = 10
	const numOperations = 100

	var wg sync.WaitGroup

	for i := range numGoroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := range numOperations {
				collector.RecordRequest("sacct", "job")
				collector.RecordResponse("sacct", "job", 0, time.Duration(j)*time.Millisecond)
				if j%10 == 0 {
					collector.RecordError("scancel", "job", errors.New("test error"))
				}
			}
		}(i)
	}

	wg.Wait()

	stats := collector.GetStats()
	assert.Equal(t, int64(numGoroutines*numOperations), stats.TotalRequests)
	assert.Equal(t, int64(numGoroutines*numOperations), stats.TotalResponses)
	assert.Equal(t, int64(numGoroutines*10), stats.TotalErrors) // Every 10th operation
}

func TestNoOpCollector(t *testing.T) {
	collector := NoOpCollector{}

	collector.RecordRequest("sbatch", "12345")
	collector.RecordResponse("sbatch", "12345", 0, 100*time.Millisecond)
	collector.RecordError("sbatch", "12345", errors.New("test error"))

	stats := collector.GetStats()
	require.NotNil(t, stats)

	assert.Equal(t, int64(0), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.TotalResponses)
	assert.Equal(t, int64(0), stats.TotalErrors)

	collector.Reset()
}

func TestDefaultCollector(t *testing.T) {
	defaultCol := GetDefaultCollector()
	assert.IsType(t, &NoOpCollector{}, defaultCol)

	newCollector := NewInMemoryCollector()
	SetDefaultCollector(newCollector)

	assert.Equal(t, newCollector, GetDefaultCollector())

	SetDefaultCollector(nil)
	assert.IsType(t, &NoOpCollector{}, GetDefaultCollector())

	SetDefaultCollector(&NoOpCollector{})
}

func TestCollectorInterface(t *testing.T) {
	var _ Collector = (*InMemoryCollector)(nil)
	var _ Collector = NoOpCollector{}
}

func TestStatsStructure(t *testing.T) {
	collector := NewInMemoryCollector()

	collector.RecordRequest("sbatch", "12345")
	collector.RecordRequest("sacct", "12345")
	collector.RecordResponse("sbatch", "12345", 0, 50*time.Millisecond)
	collector.RecordResponse("sacct", "12345", 0, 150*time.Millisecond)
	collector.RecordError("scancel", "12345", errors.New("not found"))

	stats := collector.GetStats()

	assert.NotZero(t, stats.TotalRequests)
	assert.NotZero(t, stats.TotalResponses)
	assert.NotZero(t, stats.TotalErrors)
	assert.NotEmpty(t, stats.RequestsByPath)
	assert.NotEmpty(t, stats.ResponsesByExit)
	assert.NotEmpty(t, stats.ErrorsByType)
	assert.NotEmpty(t, stats.ErrorsByPath)
	assert.NotEmpty(t, stats.ResponseTimeByPath)
	assert.NotZero(t, stats.ResponseTimeStats.Count)
	assert.False(t, stats.StartTime.IsZero())
	assert.GreaterOrEqual(t, stats.Duration, time.Duration(0)) // May be 0 on very fast systems
}

func TestIncrementMapCounter(t *testing.T) {
	var mu sync.RWMutex
	m := make(map[string]*int64)

	incrementMapCounter(&mu, m, "test-key")

	mu.RLock()
	counter, exists := m["test-key"]
	mu.RUnlock()

	assert.True(t, exists)
	assert.Equal(t, int64(1), *counter)

	incrementMapCounter(&mu, m, "test-key")

	mu.RLock()
	counter = m["test-key"]
	mu.RUnlock()

	assert.Equal(t, int64(2), *counter)
}

func TestIncrementMapCounterInt(t *testing.T) {
	var mu sync.RWMutex
	m := make(map[int]*int64)

	incrementMapCounterInt(&mu, m, 0)

	mu.RLock()
	counter, exists := m[0]
	mu.RUnlock()

	assert.True(t, exists)
	assert.Equal(t, int64(1), *counter)

	incrementMapCounterInt(&mu, m, 0)

	mu.RLock()
	counter = m[0]
	mu.RUnlock()

	assert.Equal(t, int64(2), *counter)
}
