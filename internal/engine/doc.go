// Package engine runs batched, streaming generation on a pool of model
// replicas.
//
// A Handle owns num_replicas worker goroutines, one per loaded Replica.
// Each generation call splits its batch into sub-batches (jobs), admits them
// as a unit against the MaxQueuedBatches bound, and waits until every job
// has completed, failed or been cancelled. Results come back in input order,
// NumHypotheses per input.
//
// Step events flow from the replica to the caller's StepCallback through a
// per-call bridge. The bridge maps job-local element ids to batch ids,
// enforces step ordering, drops events for finished elements and turns
// callback panics into EngineFailure errors. Callback invocations for one
// call never overlap.
package engine
