// Package marketplace implements the two-sided listing lifecycle.
//
// A listing moves through pending, requested, and accepted under optimistic
// concurrency, with the counterpart identity bound exactly once. The app
// layer exposes the lifecycle over HTTP and forwards applied transitions to
// the notification dispatcher.
package marketplace
