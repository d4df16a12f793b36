// Package eventbus provides the topic-addressed, fire-and-forget pub/sub
// abstraction that carries node-lifecycle and session-lifecycle events
// between grid components. Topics in use:
//
//	node.heartbeat  node.drain-complete  node.rejected  node.removed
//	session.started  session.ended
package eventbus

// Bus is the contract every component programs against. key is the
// payload's natural identity (a nodeId or sessionId) — it is what the
// "coalesce to latest for that topic/key" delivery guarantee keys off of.
type Bus interface {
	// Publish hands payload to the bus for topic/key. Non-blocking:
	// returns as soon as the payload has been handed off, never once it
	// has been delivered to every subscriber.
	Publish(topic, key string, payload any)

	// Subscribe registers handler for every payload published to topic.
	// handler may be invoked concurrently for different payloads and must
	// be idempotent-safe. The returned func removes the subscription.
	Subscribe(topic string, handler func(key string, payload any)) (unsubscribe func())
}
