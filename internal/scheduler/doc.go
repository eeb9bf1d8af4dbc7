// Package scheduler binds recurring cron schedules to workflow executions.
//
// # Overview
//
// A ScheduledTask names a cron expression and a target workflow id. On each
// fire the task's workflow is resolved and handed to the execution engine
// with the task metadata as the initial context. Fires run on their own
// goroutine (robfig/cron starts one per entry fire), so a slow workflow
// never blocks unrelated schedules.
//
// # Failure policy
//
// Run and failure counters are updated on every fire. Five consecutive
// failures auto-disable the task and stop its trigger; re-enabling is an
// explicit operator action (Toggle), which also resets the failure streak.
//
// # Lifecycle
//
// Tasks may be scheduled before Start; their triggers are registered when
// the service starts. Stop halts the cron runner but keeps task definitions,
// so a config hot reload can restart cleanly (e.g. on timezone change).
package scheduler
