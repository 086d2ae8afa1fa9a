// Package jobs provides asynchronous execution of orchestration goals.
// A job records a natural-language goal, travels through a queue
// (in-memory, Redis or RabbitMQ), and is claimed by a processor that
// runs the orchestrator and stores the final result.
package jobs
