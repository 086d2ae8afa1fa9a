// Package orchestrator drives the full workflow for a user goal:
// decompose it into sub-tasks, pick the best agent for each, invoke the
// agent through the paid protocol, and feed every outcome back into the
// reputation store and the on-chain validation journal. Sub-tasks are
// processed in order and a failure never aborts the remaining ones.
package orchestrator
