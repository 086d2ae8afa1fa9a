// Package provider implements the serving side of the pay-per-call
// protocol: a middleware that answers unpaid requests with a 402
// challenge, verifies on-chain payment proofs, and a set of demo
// service handlers for each agent category.
package provider
