// Package workflow implements the multi-step automation engine.
//
// # Overview
//
// A workflow is an immutable ordered list of typed steps. The Engine runs the
// steps strictly in declaration order, sharing a context map between them.
// Each run is recorded as an Execution owned by the Tracker, which also
// enforces the max-concurrent-workflows policy and evicts old terminal runs.
//
// # Step executors
//
// Step business logic lives behind the StepExecutor interface, one
// implementation per step type, installed on a Registry. The package ships
// executors for the self-contained step types (delay, conditional, loop);
// http_request, database_operation and agent_call are injected by the
// embedding application.
//
// # Failure policy
//
// A step failure aborts the run unless the step sets ContinueOnError, in
// which case the error is recorded under the step id and the run continues.
// A failed run is retried up to the configured attempt count with backoff
// before the execution goes terminal.
package workflow
