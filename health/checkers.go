package health

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// ConnectionReporter reports whether the broker link is up.
type ConnectionReporter interface {
	IsConnected() bool
}

// BrokerChecker reports the broker connection state.
type BrokerChecker struct {
	reporter ConnectionReporter
}

func NewBrokerChecker(reporter ConnectionReporter) *BrokerChecker {
	return &BrokerChecker{reporter: reporter}
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start}

	if c.reporter.IsConnected() {
		result.Status = StatusHealthy
		result.Message = "broker connection is up"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "broker connection is down"
	}

	result.Duration = time.Since(start)
	return result
}

// PendingCounter reports how many requests are in flight.
type PendingCounter interface {
	PendingCount() int
}

// PendingChecker flags a bridge whose in-flight set keeps growing,
// which usually means the processing side stopped answering.
type PendingChecker struct {
	counter       PendingCounter
	warnAbove     int
	criticalAbove int
}

func NewPendingChecker(counter PendingCounter, warnAbove, criticalAbove int) *PendingChecker {
	if warnAbove <= 0 {
		warnAbove = 100
	}
	if criticalAbove <= warnAbove {
		criticalAbove = warnAbove * 10
	}
	return &PendingChecker{counter: counter, warnAbove: warnAbove, criticalAbove: criticalAbove}
}

func (c *PendingChecker) Name() string { return "bridge_pending" }

func (c *PendingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	pending := c.counter.PendingCount()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]any{"pending": pending},
	}

	switch {
	case pending > c.criticalAbove:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%d requests in flight", pending)
	case pending > c.warnAbove:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d requests in flight", pending)
	default:
		result.Status = StatusHealthy
		result.Message = "in-flight volume is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// DepthFunc measures the backlog of one queue.
type DepthFunc func(ctx context.Context, queue string) (int, error)

// QueueBacklogChecker watches a request queue's depth. A deep queue
// means the processing side is not keeping up with submissions.
type QueueBacklogChecker struct {
	queue     string
	depth     DepthFunc
	warnAbove int
}

func NewQueueBacklogChecker(queue string, depth DepthFunc, warnAbove int) *QueueBacklogChecker {
	if warnAbove <= 0 {
		warnAbove = 10000
	}
	return &QueueBacklogChecker{queue: queue, depth: depth, warnAbove: warnAbove}
}

func (c *QueueBacklogChecker) Name() string { return "queue_" + c.queue }

func (c *QueueBacklogChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]any{"queue": c.queue},
	}

	depth, err := c.depth(ctx, c.queue)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("queue %s is not accessible", c.queue)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Details["depth"] = depth
	if depth > c.warnAbove {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("queue %s backlog is high", c.queue)
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("queue %s is accessible", c.queue)
	}

	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker watches goroutine growth, the usual leak signal in a
// service that runs a goroutine per in-flight request.
type RuntimeChecker struct {
	warnAbove     int
	criticalAbove int
}

func NewRuntimeChecker(warnAbove, criticalAbove int) *RuntimeChecker {
	if warnAbove <= 0 {
		warnAbove = 500
	}
	if criticalAbove <= warnAbove {
		criticalAbove = warnAbove * 2
	}
	return &RuntimeChecker{warnAbove: warnAbove, criticalAbove: criticalAbove}
}

func (c *RuntimeChecker) Name() string { return "runtime" }

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	goroutines := runtime.NumGoroutine()

	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]any{
			"goroutines":    goroutines,
			"heap_alloc_mb": float64(stats.HeapAlloc) / 1024 / 1024,
			"gc_runs":       stats.NumGC,
		},
	}

	switch {
	case goroutines > c.criticalAbove:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%d goroutines", goroutines)
	case goroutines > c.warnAbove:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%d goroutines", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
