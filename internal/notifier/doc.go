// Package notifier delivers pushes to supplement owners.
//
// Send never returns an error: a push that cannot be delivered (notifier
// disabled, owner missing, push disabled, no delivery address, transport
// failure after retries) reports false and is logged. Every attempt that
// reaches the transport is recorded in the notification log.
//
// # Transport
//
// Delivery is delegated to a transport.Transport (Telegram or log-only). The
// service owns rate limiting, retry with backoff and optional dedup.
//
// # History
//
// For operator visibility, the service keeps a small in-memory history of
// recent pushes.
package notifier
