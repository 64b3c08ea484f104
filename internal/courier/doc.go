// Package courier fans query results out to user destinations.
//
// A Courier carries one kind of destination (telegram chat, webhook
// endpoint). Destinations reference couriers by type tag; the Dispatcher
// enforces that exactly one courier answers a tag and applies a
// per-destination rate limit before handing off the batch. Outcomes are
// reported through Callbacks rather than return values so a single attempt
// can surface warnings alongside its final result.
package courier
