// Package metrics collects plugin-runtime counters and exposes them in the
// Prometheus text exposition format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type opKey struct {
	action  string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu           sync.Mutex
	operations   map[opKey]uint64
	opLatency    map[string]*histogram
	healthChecks map[string]uint64
	hookLatency  map[string]*histogram
}

var runtimeCollector = &collector{
	operations:   make(map[opKey]uint64),
	opLatency:    make(map[string]*histogram),
	healthChecks: make(map[string]uint64),
	hookLatency:  make(map[string]*histogram),
}

// ObserveLifecycleOp records one lifecycle operation by action and outcome.
func ObserveLifecycleOp(action, outcome string, duration time.Duration) {
	runtimeCollector.mu.Lock()
	defer runtimeCollector.mu.Unlock()
	runtimeCollector.operations[opKey{action: action, outcome: outcome}]++
	hist := runtimeCollector.opLatency[action]
	if hist == nil {
		hist = newHistogram()
		runtimeCollector.opLatency[action] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveHealthCheck records one probe result by state.
func ObserveHealthCheck(state string) {
	runtimeCollector.mu.Lock()
	defer runtimeCollector.mu.Unlock()
	runtimeCollector.healthChecks[state]++
}

// ObserveHookDuration records how long a lifecycle hook invocation took.
func ObserveHookDuration(hook string, duration time.Duration) {
	runtimeCollector.mu.Lock()
	defer runtimeCollector.mu.Unlock()
	hist := runtimeCollector.hookLatency[hook]
	if hist == nil {
		hist = newHistogram()
		runtimeCollector.hookLatency[hook] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, runtimeCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	type opMetric struct {
		opKey
		value uint64
	}
	ops := make([]opMetric, 0, len(c.operations))
	for key, value := range c.operations {
		ops = append(ops, opMetric{opKey: key, value: value})
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].action == ops[j].action {
			return ops[i].outcome < ops[j].outcome
		}
		return ops[i].action < ops[j].action
	})

	builder.WriteString("# HELP orchestrall_lifecycle_operations_total Total lifecycle operations processed.\n")
	builder.WriteString("# TYPE orchestrall_lifecycle_operations_total counter\n")
	for _, metric := range ops {
		builder.WriteString(fmt.Sprintf("orchestrall_lifecycle_operations_total{action=%q,outcome=%q} %d\n",
			metric.action, metric.outcome, metric.value))
	}

	actions := make([]string, 0, len(c.opLatency))
	for action := range c.opLatency {
		actions = append(actions, action)
	}
	sort.Strings(actions)

	builder.WriteString("# HELP orchestrall_lifecycle_duration_seconds Lifecycle operation duration in seconds.\n")
	builder.WriteString("# TYPE orchestrall_lifecycle_duration_seconds histogram\n")
	for _, action := range actions {
		renderHistogram(&builder, "orchestrall_lifecycle_duration_seconds", "action", action, c.opLatency[action])
	}

	states := make([]string, 0, len(c.healthChecks))
	for state := range c.healthChecks {
		states = append(states, state)
	}
	sort.Strings(states)

	builder.WriteString("# HELP orchestrall_health_checks_total Total health probes by reported state.\n")
	builder.WriteString("# TYPE orchestrall_health_checks_total counter\n")
	for _, state := range states {
		builder.WriteString(fmt.Sprintf("orchestrall_health_checks_total{state=%q} %d\n",
			state, c.healthChecks[state]))
	}

	hooks := make([]string, 0, len(c.hookLatency))
	for hook := range c.hookLatency {
		hooks = append(hooks, hook)
	}
	sort.Strings(hooks)

	builder.WriteString("# HELP orchestrall_hook_duration_seconds Lifecycle hook duration in seconds.\n")
	builder.WriteString("# TYPE orchestrall_hook_duration_seconds histogram\n")
	for _, hook := range hooks {
		renderHistogram(&builder, "orchestrall_hook_duration_seconds", "hook", hook, c.hookLatency[hook])
	}

	return builder.String()
}

func renderHistogram(builder *strings.Builder, name, label, value string, hist *histogram) {
	for idx, bound := range hist.buckets {
		builder.WriteString(fmt.Sprintf("%s_bucket{%s=%q,le=%q} %d\n",
			name, label, value, formatFloat(bound), hist.counts[idx]))
	}
	builder.WriteString(fmt.Sprintf("%s_bucket{%s=%q,le=\"+Inf\"} %d\n", name, label, value, hist.count))
	builder.WriteString(fmt.Sprintf("%s_sum{%s=%q} %s\n", name, label, value, formatFloat(hist.sum)))
	builder.WriteString(fmt.Sprintf("%s_count{%s=%q} %d\n", name, label, value, hist.count))
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing /metrics.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
