package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pgtyped "github.com/satishbabariya/pgtyped-go"
	"github.com/satishbabariya/pgtyped-go/runtime"
)

type batches struct {
	mu  sync.Mutex
	got [][]Event
}

func (b *batches) sink(events []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, events)
}

func (b *batches) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, batch := range b.got {
		n += len(batch)
	}
	return n
}

func TestCollector_Stats(t *testing.T) {
	c := NewCollector(Config{})
	c.Record("ListUsers", "fp1", 3, 10*time.Millisecond, nil)
	c.Record("ListUsers", "fp1", 1, 30*time.Millisecond, errors.New("boom"))
	c.Record("GetUser", "fp2", 1, 5*time.Millisecond, nil)

	stats := c.Stats()
	require.Len(t, stats, 2)

	list := stats[0]
	assert.Equal(t, "ListUsers", list.Query)
	assert.Equal(t, int64(2), list.Calls)
	assert.Equal(t, int64(1), list.Errors)
	assert.Equal(t, int64(4), list.Rows)
	assert.Equal(t, 40*time.Millisecond, list.TotalDuration)
	assert.Equal(t, 30*time.Millisecond, list.MaxDuration)
	assert.Equal(t, 20*time.Millisecond, list.MeanDuration())

	assert.Equal(t, "GetUser", stats[1].Query)
	assert.Zero(t, QueryStats{}.MeanDuration())
}

func TestCollector_BatchFlush(t *testing.T) {
	b := &batches{}
	c := NewCollector(Config{BatchSize: 2, Sink: b.sink})

	c.Record("A", "fp", 0, time.Millisecond, nil)
	assert.Zero(t, b.total())

	c.Record("A", "fp", 0, time.Millisecond, nil)
	assert.Equal(t, 2, b.total())

	c.Record("A", "fp", 0, time.Millisecond, nil)
	c.Shutdown()
	assert.Equal(t, 3, b.total())
	assert.Len(t, b.got, 2)

	c.Shutdown()
}

func TestCollector_IntervalFlush(t *testing.T) {
	b := &batches{}
	c := NewCollector(Config{FlushInterval: 10 * time.Millisecond, Sink: b.sink})
	defer c.Shutdown()

	c.Record("A", "fp", 1, time.Millisecond, nil)
	assert.Eventually(t, func() bool { return b.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCollector_Middleware(t *testing.T) {
	b := &batches{}
	c := NewCollector(Config{Sink: b.sink})
	mw := c.Middleware()

	event := &pgtyped.QueryEvent{Name: "ListUsers", Fingerprint: "fp"}
	err := mw(context.Background(), event, func() error {
		event.Rows = 2
		event.Duration = 7 * time.Millisecond
		return nil
	})
	require.NoError(t, err)

	failing := &pgtyped.QueryEvent{Name: "GetUser", Fingerprint: "fp2"}
	err = mw(context.Background(), failing, func() error {
		return &runtime.MissingParameterError{Name: "id"}
	})
	require.Error(t, err)

	c.Flush()
	require.Len(t, b.got, 1)
	events := b.got[0]
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Rows)
	assert.Equal(t, 7*time.Millisecond, events[0].Duration)
	assert.Empty(t, events[0].Error)
	assert.Equal(t, "missing_parameter", events[1].ErrorKind)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing parameter", &runtime.MissingParameterError{Name: "x"}, "missing_parameter"},
		{"not found", runtime.ErrNotFound, "not_found"},
		{"transport", &runtime.TransportError{Op: "execute", Err: errors.New("reset")}, "transport"},
		{"other", errors.New("boom"), "database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorKind(tt.err))
		})
	}
}

func TestJSONLines(t *testing.T) {
	var buf bytes.Buffer
	sink := JSONLines(&buf)
	sink([]Event{
		{Query: "A", Fingerprint: "fp", Rows: 1},
		{Query: "B", Error: "boom", ErrorKind: "database"},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var e Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &e))
	assert.Equal(t, "B", e.Query)
	assert.Equal(t, "database", e.ErrorKind)
}
