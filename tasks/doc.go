// Package tasks provides the task coordinator: the entry point through
// which callers hand work to agents.
//
// # Dispatch
//
// Interact validates agent liveness against the health monitor before
// anything else; work is never queued for an agent that is not currently
// serving. On the success path the task is enqueued on the agent's
// priority queue, handed to the external executor, and the outcome is
// reported back to the monitor as a heartbeat:
//
//	result := coord.Interact(ctx, "inventory", task, tasks.PriorityHigh)
//	if !result.Success {
//	    // result.Error carries a structured code, never a panic
//	}
//
// Executor failures and panics are converted into failed results; nothing
// escapes the coordinator boundary.
//
// # Queues
//
// Each agent type has its own queue ordered priority-major (high > medium
// > low) and FIFO within a priority band. Items are removed only by
// GetNextTask or ClearQueues.
//
// # Broadcast
//
// Broadcast fans an interaction out to several agents concurrently; each
// target succeeds or fails independently.
package tasks
