// Package engine is the delivery scheduler: a producer cycle that mirrors
// upcoming reminders from storage into an in-memory ordered queue, and a
// consumer cycle that drains the due prefix and hands each reminder to the
// deliverer, then advances it through the recurrence resolver.
//
// One mutex guards the queue and its indexes; critical sections never do
// I/O. All external mutation goes through the store and is observed by the
// next producer cycle.
package engine
