package toolregistry

import (
	"context"
	"time"

	"github.com/nexora-run/taskorch/internal/domain"
)

// toolStats is the mutable rolling-performance state behind a
// registeredTool's exposed domain.Tool.Metrics snapshot.
type toolStats struct {
	baselineLatencies []float64 // milliseconds, oldest first, capped at baselineBaselineSize
	recentLatencies   []float64
	recentErrors      int
	recentCalls       int
	errorWindow       []time.Time
}

// recordMetrics folds one invocation's outcome into the tool's baseline and
// recent windows, then refreshes the snapshot exposed via domain.Tool.
func (r *Registry) recordMetrics(t *registeredTool, elapsed time.Duration, callErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := t.stats
	ms := float64(elapsed.Milliseconds())

	if len(st.baselineLatencies) < r.regressionBaselineSize {
		st.baselineLatencies = append(st.baselineLatencies, ms)
	} else {
		st.recentLatencies = append(st.recentLatencies, ms)
		if len(st.recentLatencies) > r.regressionWindowSize {
			st.recentLatencies = st.recentLatencies[len(st.recentLatencies)-r.regressionWindowSize:]
		}
	}

	st.recentCalls++
	if callErr != nil {
		st.recentErrors++
	}
	if st.recentCalls > r.regressionWindowSize {
		// halve both counters instead of letting the denominator grow
		// without bound, keeping the error rate a rolling measure
		st.recentCalls /= 2
		st.recentErrors /= 2
	}

	t.stats = st
	t.def.Metrics = snapshotMetrics(st)
}

func snapshotMetrics(st toolStats) domain.ToolMetrics {
	m := domain.ToolMetrics{
		BaselineLatencyMS: average(st.baselineLatencies),
		BaselineCount:     len(st.baselineLatencies),
		RecentLatencyMS:   average(st.recentLatencies),
		RecentCount:       len(st.recentLatencies),
	}
	if st.recentCalls > 0 {
		m.RecentErrorRate = float64(st.recentErrors) / float64(st.recentCalls)
	}
	return m
}

func average(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// noteError tracks per-tool errors in a sliding window so a burst above
// errorThreshold within errorWindow can trigger a rollback independent of
// the slower baseline/window latency comparison.
func (r *Registry) noteError(ctx context.Context, name string, t *registeredTool) {
	r.mu.Lock()
	now := time.Now()
	cutoff := now.Add(-r.errorWindow)
	kept := t.stats.errorWindow[:0]
	for _, ts := range t.stats.errorWindow {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.stats.errorWindow = append(kept, now)
	tripped := r.errorThreshold > 0 && len(t.stats.errorWindow) >= r.errorThreshold
	r.mu.Unlock()

	if tripped {
		r.rollback(ctx, name, t, "error burst exceeded threshold")
	}
}

// checkRegression compares the recent window against the baseline and, if
// both latency and error-rate drift past their configured deltas, reverts
// the tool to its last signed-good entry bytes.
func (r *Registry) checkRegression(ctx context.Context, name string, t *registeredTool) {
	r.mu.RLock()
	st := t.stats
	r.mu.RUnlock()

	if len(st.baselineLatencies) < r.regressionBaselineSize || len(st.recentLatencies) < r.regressionWindowSize {
		return
	}

	baseline := average(st.baselineLatencies)
	recent := average(st.recentLatencies)
	latencyRegressed := time.Duration(recent-baseline)*time.Millisecond > r.regressionLatencyDelta

	var errRate float64
	if st.recentCalls > 0 {
		errRate = float64(st.recentErrors) / float64(st.recentCalls)
	}
	errorRegressed := errRate > r.regressionErrorDelta

	if latencyRegressed && errorRegressed {
		r.regressions.WithLabelValues(name).Inc()
		r.rollback(ctx, name, t, "latency and error rate both regressed past baseline")
	}
}

// rollback reverts a tool to the last-known-good signed entry bytes, if one
// is on file, and records the event. A tool with no signed bytes on file
// (a native, non-self-extended tool) is only flagged, not reverted.
func (r *Registry) rollback(ctx context.Context, name string, t *registeredTool, reason string) {
	r.mu.Lock()
	bytesOK, hasBytes := r.signedBytes[name]
	r.mu.Unlock()

	payload := map[string]any{"tool": name, "reason": reason}
	if !hasBytes {
		payload["reverted"] = false
		r.recordEvent(ctx, CallerContext{}, "tool_regression_detected", name, payload, reason)
		return
	}
	payload["reverted"] = true
	payload["entry_bytes_len"] = len(bytesOK)
	r.recordEvent(ctx, CallerContext{}, "tool_rolled_back", name, payload, reason)

	r.mu.Lock()
	t.stats = toolStats{}
	t.def.Metrics = domain.ToolMetrics{}
	r.mu.Unlock()
}

// SetSignedEntry records the last-known-good entry bytes for a
// self-extended tool, so a future detected regression has something to
// revert to.
func (r *Registry) SetSignedEntry(name string, entryBytes []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signedBytes[name] = entryBytes
}
