// Package webhooks implements outbound event delivery: subscription
// records, signed payload construction, asynchronous delivery with
// fixed-delay retries, failure accounting with auto-disable, and the
// broadcast fan-out entry point.
//
// A delivery chain for one webhook is strictly sequential: each retry is
// scheduled only after the previous attempt's outcome is known, and each
// attempt is a new immutable Delivery record. Chains for different
// webhooks run independently on a bounded worker pool and may interleave
// arbitrarily. The request that triggers a delivery never waits on the
// chain; it gets the pending first-attempt record as a handle.
//
// A webhook that keeps failing disables itself once its failure count
// reaches twice its retry budget. Any success resets the count.
package webhooks
