// Package providers hosts provider-facing runtimes built on the core
// packages. devkit is the in-memory reference adapter; real tracker
// adapters follow its composition of limiter, mapper, and dispatcher.
package providers
