// Package payment implements the consumer side of the pay-per-call
// protocol: invoke a service, settle the 402 challenge on chain, and
// retry exactly once with the transfer hash as proof. The caller gets a
// single outcome describing whether the service was delivered and what
// was paid for it.
package payment
