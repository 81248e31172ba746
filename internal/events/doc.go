// Package events defines the session manager's event surface and the bus
// that delivers it.
//
// Events are tagged variants: every concrete type (Connected, MessageReceived,
// Reconnecting, ...) implements Event and reports its Kind. Consumers switch
// on the concrete type:
//
//	bus.OnAny(func(ev events.Event) error {
//		switch e := ev.(type) {
//		case events.MessageReceived:
//			...
//		case events.Reconnecting:
//			...
//		}
//		return nil
//	})
//
// The Bus runs one dispatcher goroutine. Emit never blocks; events are
// delivered in emit order, and listeners for one kind run in registration
// order. A listener that returns an error or panics is logged and skipped;
// the remaining listeners still receive the event. Listeners must not call
// Flush or Close, which wait on the dispatcher.
package events
