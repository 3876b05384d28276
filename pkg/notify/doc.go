// Package notify turns lifecycle events into emails.
//
// The set of notification types is closed (AllTypes). The notification_log
// CHECK constraint is generated from it, and each type can be switched off
// at runtime with Dispatcher.SetEnabled.
//
// Every send attempt, successful or not, is appended to a LogStore. Before
// sending, the dispatcher consults the log and suppresses a notification
// when one of the same type has already been sent to the same recipient for
// the same grant on the current calendar day (in the configured timezone).
// Failed attempts do not count, so a later scan retries them.
package notify
