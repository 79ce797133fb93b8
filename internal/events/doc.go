// Package events provides the in-process publish/subscribe bus that carries
// scan job domain events from the queue and worker to asynchronous consumers
// (the API event stream, the shadow-lane sampler).
//
// Publishing never blocks: each subscriber owns a bounded buffer and the
// oldest event is dropped when a consumer falls behind. Event delivery is a
// side channel, not a source of truth; the queue database remains
// authoritative.
package events
