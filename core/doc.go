// Package core defines the shared contracts for the go-trackers integration
// runtime: the universal task/project/user records every provider adapter
// normalizes into, the webhook request/response envelope, the error taxonomy
// text codes, and the configuration surface resolved at construction time.
//
// The package holds no provider-specific behavior. Provider adapters compose
// the ratelimit, mapping, and webhooks packages against these contracts.
package core
