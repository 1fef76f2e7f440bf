// Package invalidation implements the rule-driven cache invalidation engine.
//
// Rules are selected by matching their wildcard pattern against the trigger
// passed to Invalidate and run by descending priority. Each matched rule
// yields exactly one Event, whatever the outcome, and a failing rule never
// prevents the others from running.
//
// Strategies:
//
//   - immediate: store-level pattern delete of the rule's pattern, then hooks
//   - lazy: queued and executed by the background drainer
//   - time-based: executed once after the rule's TTL
//   - dependency-based: executed only when a dependency is absent
//   - pattern-based: enumerates live keys and deletes regex matches one by one
//
// Deferred executions of lazy and time-based rules are recorded in the audit
// log with Deferred set but do not count towards the engine totals.
package invalidation
