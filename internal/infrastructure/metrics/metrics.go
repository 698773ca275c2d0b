// Package metrics publishes engine counters through expvar. Counters are
// process-wide; callers scrape them from the standard /debug/vars endpoint
// when one is mounted by the embedding application.
package metrics

import (
	"expvar"
)

// Checkpoint store metrics.
var (
	checkpointsSaved   = new(expvar.Int)
	checkpointsLoaded  = new(expvar.Int)
	listEntriesSkipped = new(expvar.Int)
)

// Thread manager metrics.
var (
	casConflicts   = new(expvar.Int)
	threadsCreated = new(expvar.Int)
	threadsForked  = new(expvar.Int)
	rollbacks      = new(expvar.Int)
	merges         = new(expvar.Int)
)

// State container metrics.
var (
	sweeperRemovals = new(expvar.Int)
	activeContexts  = new(expvar.Int)
)

func init() {
	expvar.Publish("stateengine_checkpoints_saved_total", checkpointsSaved)
	expvar.Publish("stateengine_checkpoints_loaded_total", checkpointsLoaded)
	expvar.Publish("stateengine_list_entries_skipped_total", listEntriesSkipped)
	expvar.Publish("stateengine_cas_conflicts_total", casConflicts)
	expvar.Publish("stateengine_threads_created_total", threadsCreated)
	expvar.Publish("stateengine_threads_forked_total", threadsForked)
	expvar.Publish("stateengine_rollbacks_total", rollbacks)
	expvar.Publish("stateengine_merges_total", merges)
	expvar.Publish("stateengine_sweeper_removals_total", sweeperRemovals)
	expvar.Publish("stateengine_active_contexts", activeContexts)
}

func IncCheckpointsSaved()     { checkpointsSaved.Add(1) }
func IncCheckpointsLoaded()    { checkpointsLoaded.Add(1) }
func IncListEntriesSkipped()   { listEntriesSkipped.Add(1) }
func IncCASConflicts()         { casConflicts.Add(1) }
func IncThreadsCreated()       { threadsCreated.Add(1) }
func IncThreadsForked()        { threadsForked.Add(1) }
func IncRollbacks()            { rollbacks.Add(1) }
func IncMerges()               { merges.Add(1) }
func AddSweeperRemovals(n int) { sweeperRemovals.Add(int64(n)) }
func SetActiveContexts(n int)  { activeContexts.Set(int64(n)) }
