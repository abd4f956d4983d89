// Package bus provides the pipeline-scoped message bus for agent
// coordination.
//
// # Overview
//
// A pipeline is a named group of agents with a shared lifecycle. Messages
// sent into a pipeline are routed point-to-point, to an explicit list of
// recipients, or broadcast to every participant except the sender.
// Delivery is in-process, at-most-once and best-effort: a subscriber
// whose buffer is full misses the message, and there is no redelivery or
// acknowledgement.
//
// # Subscriptions
//
// Subscriptions are channel-based and exist at two granularities:
//
//	sub, _ := b.SubscribeToAgent("pricing")
//	for msg := range sub.Messages() {
//	    // every message addressed to the pricing agent
//	}
//
//	sub, _ := b.SubscribeToPipeline(p.ID)
//	// every delivery involving a participant of the pipeline
//
// # Request/Response
//
// Request sends a request-typed message and suspends the caller until a
// correlated response arrives or the timeout fires:
//
//	reply, err := b.Request(ctx, p.ID, "orders", "inventory", "reserve", payload, time.Second)
//
// The responder side uses Respond, which correlates via the metadata the
// request carried:
//
//	b.Respond(p.ID, msg, result)
//
// Correlation is by generated response ID; an unrelated response never
// resolves a pending request.
package bus
