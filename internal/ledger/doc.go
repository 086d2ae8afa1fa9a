// Package ledger houses blockchain connectivity for the payment mesh,
// including signer abstractions, value-transfer submission, on-chain
// validation journaling, and multi-chain configuration helpers. Higher
// layers depend only on the interfaces defined here so that tests and
// alternative networks can supply their own implementations.
package ledger
