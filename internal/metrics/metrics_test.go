package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records every call for inspection.
type fakeBackend struct {
	mu         sync.Mutex
	counters   []call
	histograms []call
	flushes    int
}

type call struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, call{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, call{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

// install swaps the global backend for the duration of one test. Tests that
// use it do not run in parallel.
func install(t *testing.T) *fakeBackend {
	t.Helper()
	orig := current()
	fb := &fakeBackend{}
	SetBackend(fb)
	t.Cleanup(func() { SetBackend(orig) })
	return fb
}

func TestRecordStep_SuccessAndFailure(t *testing.T) {
	fb := install(t)

	RecordStep("run", "migrate", nil, 2*time.Second)
	RecordStep("run", "validate_target", errors.New("boom"), 1500*time.Millisecond)

	require.Len(t, fb.counters, 2)
	require.Len(t, fb.histograms, 2)

	assert.Equal(t, StepTotal, fb.counters[0].name)
	assert.Equal(t, "success", fb.counters[0].labels["status"])
	assert.Equal(t, "migrate", fb.counters[0].labels["step"])
	assert.Equal(t, "failure", fb.counters[1].labels["status"])

	assert.Equal(t, StepDuration, fb.histograms[1].name)
	assert.InDelta(t, 1.5, fb.histograms[1].value, 1e-9)
}

func TestRecordRowsAndBatches_SkipNonPositive(t *testing.T) {
	fb := install(t)

	RecordRows("run", "Product", 0)
	RecordRows("run", "Product", -3)
	RecordBatches("run", "Product", 0)
	RecordMismatches("run", 0)
	assert.Empty(t, fb.counters)

	RecordRows("run", "Product", 1000)
	RecordBatches("run", "Product", 1)
	RecordMismatches("run", 2)
	require.Len(t, fb.counters, 3)
	assert.Equal(t, RowsTotal, fb.counters[0].name)
	assert.Equal(t, "Product", fb.counters[0].labels["entity"])
	assert.EqualValues(t, 1000, fb.counters[0].value)
	assert.Equal(t, BatchesTotal, fb.counters[1].name)
	assert.Equal(t, MismatchesTotal, fb.counters[2].name)
}

func TestSetBackend_NilKeepsCurrent(t *testing.T) {
	fb := install(t)
	SetBackend(nil)
	require.NoError(t, Flush())
	assert.Equal(t, 1, fb.flushes)
}

func TestNopBackendIsDefault(t *testing.T) {
	var b Backend = nopBackend{}
	b.IncCounter("x", 1, nil)
	b.ObserveHistogram("x", 1, nil)
	assert.NoError(t, b.Flush())
}
