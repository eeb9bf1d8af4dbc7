// Package publisher schedules and fans out content publications.
//
// # Overview
//
// A ScheduledPublication binds content and a list of target channels to a
// single future instant. At that instant the service publishes to every
// channel independently (one channel's failure never aborts the others) and
// records a per-channel result. PublishNow performs the same fan-out
// synchronously without a timer.
//
// # Lifecycle
//
//	scheduled -> publishing -> published | failed
//	scheduled -> cancelled
//
// Cancellation is only valid while a publication is still scheduled; no
// transition leaves a terminal state. A background sweep warns about
// publications whose time has passed while still scheduled (a missed or
// stuck trigger) and evicts terminal records after the retention window.
//
// # Rate limits
//
// Per-platform posting limits from config are enforced at the channel call:
// an hourly limiter paces sends, a daily counter rejects outright.
package publisher
