package diff

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// State is a step of the watch loop.
type State int

const (
	StateScanning State = iota
	StateWaiting
	StateRescan
	StateConverged
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "SCANNING"
	case StateWaiting:
		return "WAITING"
	case StateRescan:
		return "RESCAN"
	case StateConverged:
		return "CONVERGED"
	case StateTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the loop ends in this state.
func (s State) Terminal() bool {
	return s == StateConverged || s == StateTimeout
}

// Event describes a watch loop transition.
type Event struct {
	State     State
	Iteration int
	Rows      int
	Tables    []string
	Err       error
}

// WatchResult is the outcome of Watch.
type WatchResult struct {
	State      State
	Iterations int
	Delta      []*RowComparison
	Report     *Report
}

// Watch re-diffs the divergent tables every interval until they converge or
// the timeout token fires. The token is checked once per iteration, so the
// loop overruns the deadline by at most one interval. Reconciliation always
// runs on the last computed delta.
func (w *Watcher) Watch(ctx context.Context, timeout <-chan struct{}, interval time.Duration) (*WatchResult, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	iteration := 1
	w.emit(Event{State: StateScanning, Iteration: iteration, Tables: w.TableNames()})
	delta, failed, err := w.delta(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	state := StateScanning
	for {
		if len(delta) == 0 && len(failed) == 0 {
			state = StateConverged
			break
		}
		if fired(timeout) {
			w.logger.Error("⏰ Deadline reached, reconciling the last delta")
			state = StateTimeout
			break
		}

		tables := tablesOf(delta, failed)
		w.logger.Info(fmt.Sprintf("⏳ Found %d rows differing between master and replica on %v, sleeping %s to allow replication",
			len(delta), tables, interval))
		w.emit(Event{State: StateWaiting, Iteration: iteration, Rows: len(delta), Tables: tables, Err: err})
		w.opts.Sleep(interval)

		iteration++
		w.emit(Event{State: StateRescan, Iteration: iteration, Rows: len(delta), Tables: tables})
		w.Reset(tables)
		w.logger.Debug(fmt.Sprintf("updated tables to check: %v", w.TableNames()))

		w.emit(Event{State: StateScanning, Iteration: iteration, Rows: len(delta), Tables: tables})
		delta, failed, err = w.delta(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}

	w.emit(Event{State: state, Iteration: iteration, Rows: len(delta), Tables: tablesOf(delta, failed), Err: err})
	if state == StateConverged {
		w.logger.Info(fmt.Sprintf("✅ Replica converged after %d iterations", iteration))
	}

	report := w.ReconcileDelta(ctx, delta)
	return &WatchResult{
		State:      state,
		Iterations: iteration,
		Delta:      delta,
		Report:     report,
	}, err
}

func (w *Watcher) emit(e Event) {
	if w.opts.Observer != nil {
		w.opts.Observer(e)
	}
}

func fired(timeout <-chan struct{}) bool {
	if timeout == nil {
		return false
	}
	select {
	case <-timeout:
		return true
	default:
		return false
	}
}

// tablesOf lists the distinct tables that appear in delta or failed to diff.
func tablesOf(delta []*RowComparison, failed []string) []string {
	seen := make(map[string]bool)
	var tables []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			tables = append(tables, name)
		}
	}
	for _, rc := range delta {
		add(rc.TableName)
	}
	for _, name := range failed {
		add(name)
	}
	sort.Strings(tables)
	return tables
}
