// Package webhooks receives, verifies, and dispatches inbound webhook
// deliveries from work trackers. Each provider signs payloads its own
// way; the verifier strategies here cover the common schemes (header
// HMAC over the body, HMAC over body plus callback URL, stored hook
// secrets, shared tokens) and the Dispatcher runs the full intake
// sequence: handshake, challenge echo, signature check, parse, and
// handler fan-out.
package webhooks
