// Package pipeline provides the stage execution engine.
//
// A pipeline is a fixed, ordered list of stages. The engine threads a
// domain.PipelineState through them one at a time: each stage receives the
// current state, returns a partial update plus a trace record, and the engine
// replaces the state with the updated copy before starting the next stage.
// There is no branching, no retry and no skipping.
//
// # Execution Modes
//
//   - Execute blocks until every stage has run and returns the result.
//   - Stream emits a snapshot after every completed stage over an unbuffered
//     channel, so the producer never runs more than one stage ahead of its
//     consumer.
//
// Both modes share one run loop and the same Finalize projection, so a
// drained stream and Execute produce identical results for a deterministic
// backend.
//
// # Failure and Cancellation
//
// A failing stage stops the run. Execute returns a *StageError; Stream sends
// one Snapshot carrying the same error and closes. Cancellation is observed
// between stages: once ctx is done no further stage starts and Stream closes
// without an error element.
package pipeline
