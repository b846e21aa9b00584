// Package reminder keeps the set of scheduled caregiving reminders consistent
// with the user's settings and observed feeding/sleep patterns.
//
// The flow is one way:
//
//	SettingsStore + pattern.Analyzer -> Calculate -> Scheduler -> Dispatcher
//
// The Scheduler owns a Registry mapping each Kind to the dispatcher trigger id
// it registered. Every registry-touching operation runs under one mutex, and a
// kind's old trigger is always cancelled before its new one is registered, so
// the dispatcher never holds two triggers for the same kind.
//
// Dispatcher failures are logged and returned; the registry only records ids
// the dispatcher actually handed back.
package reminder
