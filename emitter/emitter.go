// Package emitter delivers normalized application events to external
// consumers. Delivery is fire-and-forget from the core's perspective: an
// emitter logs failures but never propagates them back into the pipelines.
package emitter

import (
	"context"

	"github.com/rgranatodutra/wwebjs-api/message"
)

// Emitter is the event sink contract consumed by the session core.
type Emitter interface {
	Emit(ctx context.Context, event message.Event)
}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ctx context.Context, event message.Event) {
	for _, e := range m {
		e.Emit(ctx, event)
	}
}
