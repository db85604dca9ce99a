// Package deliver pushes fired reminders to their recipients.
//
// Delivery failure is a routine outcome (blocked bot, deleted account,
// network trouble), reported as a Result rather than an error: the engine
// advances the reminder either way so an occurrence is never redelivered.
package deliver
