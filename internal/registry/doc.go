// Package registry maintains the marketplace's view of service agents: who
// they are, what capability they sell, where they can be reached, and how
// reliable they have proven to be. Reputation mutation is owned exclusively
// by this package; every other component reads snapshots. Backends include a
// durable JSON collection file for single-node deployments and MySQL for
// shared ones.
package registry
