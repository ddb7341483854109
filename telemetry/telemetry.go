// Package telemetry collects per-query execution metrics from client
// middleware and hands batches of events to a sink.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	pgtyped "github.com/satishbabariya/pgtyped-go"
	"github.com/satishbabariya/pgtyped-go/runtime"
)

// Event is one executed query.
type Event struct {
	Query       string        `json:"query"`
	Fingerprint string        `json:"fingerprint"`
	Rows        int64         `json:"rows"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// QueryStats aggregates the events of one query name.
type QueryStats struct {
	Query         string
	Calls         int64
	Errors        int64
	Rows          int64
	TotalDuration time.Duration
	MaxDuration   time.Duration
}

// MeanDuration returns the average duration per call.
func (s QueryStats) MeanDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// Sink receives flushed batches. It runs on the flushing goroutine.
type Sink func(events []Event)

// Config configures a Collector.
type Config struct {
	// BatchSize triggers a flush when this many events are pending; 0 disables.
	BatchSize int
	// FlushInterval flushes pending events periodically; 0 disables.
	FlushInterval time.Duration
	Sink          Sink
}

// Collector records query events. It is safe for concurrent use.
type Collector struct {
	config  Config
	mu      sync.Mutex
	events  []Event
	stats   map[string]*QueryStats
	flushMu sync.Mutex

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewCollector creates a collector and starts its background flush when an
// interval is configured.
func NewCollector(config Config) *Collector {
	c := &Collector{
		config:   config,
		stats:    make(map[string]*QueryStats),
		stopChan: make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		c.startBackgroundFlush()
	}
	return c
}

// Middleware records every query run through a client.
func (c *Collector) Middleware() pgtyped.Middleware {
	return func(ctx context.Context, event *pgtyped.QueryEvent, next func() error) error {
		err := next()
		c.Record(event.Name, event.Fingerprint, event.Rows, event.Duration, err)
		return err
	}
}

// Record adds one event.
func (c *Collector) Record(query, fingerprint string, rows int64, duration time.Duration, err error) {
	event := Event{
		Query:       query,
		Fingerprint: fingerprint,
		Rows:        rows,
		Duration:    duration,
		Timestamp:   time.Now(),
	}
	if err != nil {
		event.Error = err.Error()
		event.ErrorKind = errorKind(err)
	}

	c.mu.Lock()
	s, ok := c.stats[query]
	if !ok {
		s = &QueryStats{Query: query}
		c.stats[query] = s
	}
	s.Calls++
	s.Rows += rows
	s.TotalDuration += duration
	if duration > s.MaxDuration {
		s.MaxDuration = duration
	}
	if err != nil {
		s.Errors++
	}

	full := false
	if c.config.Sink != nil {
		c.events = append(c.events, event)
		full = c.config.BatchSize > 0 && len(c.events) >= c.config.BatchSize
	}
	c.mu.Unlock()

	if full {
		c.Flush()
	}
}

// Stats returns per-query aggregates, slowest total first.
func (c *Collector) Stats() []QueryStats {
	c.mu.Lock()
	out := make([]QueryStats, 0, len(c.stats))
	for _, s := range c.stats {
		out = append(out, *s)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalDuration != out[j].TotalDuration {
			return out[i].TotalDuration > out[j].TotalDuration
		}
		return out[i].Query < out[j].Query
	})
	return out
}

// Flush hands pending events to the sink.
func (c *Collector) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if len(c.events) == 0 {
		c.mu.Unlock()
		return
	}
	events := c.events
	c.events = nil
	c.mu.Unlock()

	c.config.Sink(events)
}

func (c *Collector) startBackgroundFlush() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.config.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.Flush()
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Shutdown stops the background flush and flushes remaining events.
func (c *Collector) Shutdown() {
	c.once.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		c.Flush()
	})
}

// JSONLines returns a sink writing one JSON object per event to w. Write
// errors are dropped; metrics never fail a query.
func JSONLines(w io.Writer) Sink {
	var mu sync.Mutex
	return func(events []Event) {
		mu.Lock()
		defer mu.Unlock()
		enc := json.NewEncoder(w)
		for _, e := range events {
			_ = enc.Encode(e)
		}
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, runtime.ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, runtime.ErrQueryParse):
		return "query_parse"
	case errors.Is(err, runtime.ErrTypeResolution):
		return "type_resolution"
	case errors.Is(err, runtime.ErrResultMapping):
		return "result_mapping"
	case errors.Is(err, runtime.ErrNotFound):
		return "not_found"
	case errors.Is(err, runtime.ErrTransport):
		return "transport"
	default:
		return "database"
	}
}
