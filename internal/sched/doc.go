// Package sched is the scheduling core: it turns saved-search recurrence
// blocks into recurring trigger-engine jobs, re-executes the searches,
// accumulates their results in the grid's result cache, and drains that
// cache to user destinations through the courier layer.
//
// The Coordinator owns the lifecycle. It consumes catalog mutation events
// and keeps two grid-backed registries (queries and deliveries) mapping
// search IDs to live job IDs. Tasks consult the registry on every firing,
// so cancellation works across restarts and across nodes sharing the grid:
// a job whose registration disappeared retires itself on its next firing.
package sched
