// Package dispatch implements the single-writer event loop of the data layer.
//
// Every change to caller-visible state happens on this loop: a subscription
// push being applied, a listen error being recorded, a failed write being
// broadcast through the emitter. Producers (backend listener goroutines,
// mutation workers) never touch state directly; they Post events.
//
// Event processing:
//  1. Post stamps the event with the next logical sequence number and
//     appends it to an unbounded FIFO queue.
//  2. Run (or Drain) dequeues events one at a time and calls Apply.
//  3. A panicking Apply is recovered and logged; processing continues.
//
// Ordering: events are applied in Post order. Two events posted from the
// same goroutine are therefore applied in that goroutine's order, which is
// how per-target transport order is preserved.
//
// Exactly one goroutine applies events at a time. Run and Drain share a
// processing lock, so a caller may pump the loop with Drain while no Run
// goroutine exists (tests, single-threaded hosts).
package dispatch
