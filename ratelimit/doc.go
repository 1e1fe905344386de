// Package ratelimit provides per-provider admission control for outbound
// calls: a continuously refilling token bucket with optional FIFO request
// queuing, and a separate point-cost budget for complexity-priced APIs.
//
// One Limiter exists per (organization, provider) pair. Adapters call
// Acquire before every outbound request; complexity-priced adapters check
// their ComplexityTracker as well, since a call can be inside the request
// quota yet over the point budget.
package ratelimit
