// Package selector decides which registered agent should serve a
// sub-task. Strategies are consulted in order: the reputation store
// first, then on-chain provider announcements, and finally a static
// fallback catalog probed for liveness. The first strategy that yields
// a candidate wins.
package selector
