package tether

import (
	"github.com/akmonengine/tether/actor"
	"github.com/akmonengine/tether/constraint"
	"github.com/akmonengine/tether/rollback"
)

const (
	TRIGGER_ENTER EventType = iota
	COLLISION_ENTER
	TRIGGER_STAY
	COLLISION_STAY
	TRIGGER_EXIT
	COLLISION_EXIT
	ON_SLEEP
	ON_WAKE
	ON_FAULT
	ON_DESYNC
	ON_ROLLBACK
)

type EventType uint8

// Event interface - all events implement this
type Event interface {
	Type() EventType
}

// Trigger events
type TriggerEnterEvent struct {
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (e TriggerEnterEvent) Type() EventType { return TRIGGER_ENTER }

type TriggerStayEvent struct {
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (e TriggerStayEvent) Type() EventType { return TRIGGER_STAY }

type TriggerExitEvent struct {
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (e TriggerExitEvent) Type() EventType { return TRIGGER_EXIT }

// Collision events
type CollisionEnterEvent struct {
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (e CollisionEnterEvent) Type() EventType { return COLLISION_ENTER }

type CollisionStayEvent struct {
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (e CollisionStayEvent) Type() EventType { return COLLISION_STAY }

type CollisionExitEvent struct {
	BodyA actor.BodyID
	BodyB actor.BodyID
}

func (e CollisionExitEvent) Type() EventType { return COLLISION_EXIT }

// Sleep/Wake events
type SleepEvent struct {
	Body actor.BodyID
}

func (e SleepEvent) Type() EventType { return ON_SLEEP }

type WakeEvent struct {
	Body actor.BodyID
}

func (e WakeEvent) Type() EventType { return ON_WAKE }

// FaultEvent reports a non-finite impulse or pose that was skipped. The frame
// is flagged as degraded. Body is set for integration faults, Constraint for
// solver faults.
type FaultEvent struct {
	Frame      uint64
	Body       actor.BodyID
	Constraint constraint.Key
	Err        error
}

func (e FaultEvent) Type() EventType { return ON_FAULT }

// DesyncEvent reports an authoritative checksum that differs from the local one
type DesyncEvent struct {
	Frame  uint64
	Local  uint64
	Remote uint64
}

func (e DesyncEvent) Type() EventType { return ON_DESYNC }

// RollbackEvent reports a restore to frame From followed by re-simulation up to To.
// Superseded holds the local predictions of frames From to To that the
// rollback replaced, oldest first.
type RollbackEvent struct {
	From       uint64
	To         uint64
	Superseded []rollback.FrameState
}

func (e RollbackEvent) Type() EventType { return ON_ROLLBACK }

// EventListener - callback for events
type EventListener func(event Event)

// pairKey is an ordered body pair, A < B
type pairKey struct {
	bodyA, bodyB actor.BodyID
	trigger      bool
}

func (p pairKey) less(other pairKey) bool {
	if p.bodyA != other.bodyA {
		return p.bodyA.Less(other.bodyA)
	}
	return p.bodyB.Less(other.bodyB)
}

// Events buffers the events of a step and delivers them once the step is
// complete. Pairs are kept sorted so events come out in body id order.
type Events struct {
	listeners map[EventType][]EventListener

	buffer []Event

	previousActivePairs []pairKey
	currentActivePairs  []pairKey

	sleepStates map[actor.BodyID]bool

	// muted drops collision, trigger and sleep events while tracking goes on,
	// used when re-simulating frames that were already reported
	muted bool
}

func NewEvents() Events {
	return Events{
		listeners:   make(map[EventType][]EventListener),
		buffer:      make([]Event, 0, 256),
		sleepStates: make(map[actor.BodyID]bool),
	}
}

// Subscribe adds a listener for an event type
func (e *Events) Subscribe(eventType EventType, listener EventListener) {
	e.listeners[eventType] = append(e.listeners[eventType], listener)
}

// recordCollisions registers the touching pairs of this step and returns the
// contacts that need a response, trigger contacts removed. contacts must be
// sorted by body pair.
func (e *Events) recordCollisions(contacts []*constraint.Contact) []*constraint.Contact {
	n := 0
	for _, c := range contacts {
		bodyA, bodyB := c.Bodies()
		trigger := bodyA.IsTrigger || bodyB.IsTrigger
		e.currentActivePairs = append(e.currentActivePairs, pairKey{bodyA: c.BodyA, bodyB: c.BodyB, trigger: trigger})

		if !trigger {
			contacts[n] = c
			n++
		}
	}
	return contacts[:n]
}

func (e *Events) emit(event Event) {
	e.buffer = append(e.buffer, event)
}

func (e *Events) emitQuiet(event Event) {
	if !e.muted {
		e.buffer = append(e.buffer, event)
	}
}

func (e *Events) enter(pair pairKey) {
	if pair.trigger {
		e.emitQuiet(TriggerEnterEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
	} else {
		e.emitQuiet(CollisionEnterEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
	}
}

func (e *Events) stay(pair pairKey) {
	if pair.trigger {
		e.emitQuiet(TriggerStayEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
	} else {
		e.emitQuiet(CollisionStayEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
	}
}

func (e *Events) exit(pair pairKey) {
	if pair.trigger {
		e.emitQuiet(TriggerExitEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
	} else {
		e.emitQuiet(CollisionExitEvent{BodyA: pair.bodyA, BodyB: pair.bodyB})
	}
}

// processCollisionEvents merges the sorted previous and current pairs into
// Enter, Stay and Exit events. A pair that disappeared because both bodies
// are resting (sleeping or not dynamic) is kept silently instead of exiting.
func (e *Events) processCollisionEvents(resting func(id actor.BodyID) bool) {
	previous, current := e.previousActivePairs, e.currentActivePairs
	next := make([]pairKey, 0, len(current))

	i, j := 0, 0
	for i < len(previous) || j < len(current) {
		switch {
		case j == len(current) || (i < len(previous) && previous[i].less(current[j])):
			pair := previous[i]
			if resting(pair.bodyA) && resting(pair.bodyB) {
				next = append(next, pair)
			} else {
				e.exit(pair)
			}
			i++
		case i == len(previous) || current[j].less(previous[i]):
			e.enter(current[j])
			next = append(next, current[j])
			j++
		default:
			if !(resting(current[j].bodyA) && resting(current[j].bodyB)) {
				e.stay(current[j])
			}
			next = append(next, current[j])
			i++
			j++
		}
	}

	e.previousActivePairs = next
	e.currentActivePairs = previous[:0]
}

func (e *Events) processSleepEvents(bodies []*actor.RigidBody) {
	for _, body := range bodies {
		if !body.IsDynamic() {
			continue
		}
		trackedState, exists := e.sleepStates[body.ID()]
		if !exists {
			e.sleepStates[body.ID()] = body.IsSleeping
			continue
		}

		if !trackedState && body.IsSleeping {
			e.emitQuiet(SleepEvent{Body: body.ID()})
			e.sleepStates[body.ID()] = true
		} else if trackedState && !body.IsSleeping {
			e.emitQuiet(WakeEvent{Body: body.ID()})
			e.sleepStates[body.ID()] = false
		}
	}
}

// forget drops every trace of a removed body without emitting events
func (e *Events) forget(id actor.BodyID) {
	delete(e.sleepStates, id)

	n := 0
	for _, pair := range e.previousActivePairs {
		if pair.bodyA != id && pair.bodyB != id {
			e.previousActivePairs[n] = pair
			n++
		}
	}
	e.previousActivePairs = e.previousActivePairs[:n]
}

// flush sends all buffered events and clears the buffer
func (e *Events) flush() {
	for _, event := range e.buffer {
		if listeners, ok := e.listeners[event.Type()]; ok {
			for _, listener := range listeners {
				listener(event)
			}
		}
	}
	e.buffer = e.buffer[:0]
}
