// Package queue serializes outbound native-bridge commands.
//
// Commands are appended in arrival order and handed to the bridge one at a
// time, at most one per tick of a fixed-period dispatch timer. The timer only
// runs while there is something to send:
//
//   - Enqueue starts it when it is not already running
//   - the tick that pops the last pending command stops it
//   - the next Enqueue after that starts it again
//
// Bridge availability is fixed when the queue is built. While the bridge is
// unavailable every tick is a no-op and commands accumulate; by default
// there is no bound on how many (see Options.MaxPending).
//
// Delivery is fire-and-forget. A transport error is logged and published as
// an event; the command is not re-queued.
package queue
