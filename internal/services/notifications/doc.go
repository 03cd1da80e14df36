// Package notifications implements durable, user-targeted delivery of
// lifecycle events.
//
// Events are persisted before any push attempt; live websocket channels are
// best effort and reconnecting clients replay their undelivered-or-recent
// backlog through catch-up.
package notifications
