/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "time"

// timerEvent is delivered into the room's event loop by the countdown
// goroutine. Events are tagged with the generation they were started under;
// the room drops anything stale, so a canceled timer can never expire.
type timerEvent struct {
	gen       int
	remaining int
	expired   bool
}

// startTurnTimer begins the countdown for the current turn holder. Any
// previously running timer must have been canceled first.
func (r *Room) startTurnTimer() {
	r.timerGen++

	stop := make(chan struct{})
	r.timerStop = stop

	go runTurnTimer(r.timerEvents, r.timerGen, r.config.TurnSeconds, stop)
}

// cancelTurnTimer invalidates the active countdown. The generation bump makes
// any in-flight tick or expiry stale before this call returns, so cancellation
// wins regardless of goroutine scheduling. Safe to call when no timer is
// running, and safe to call twice.
func (r *Room) cancelTurnTimer() {
	r.timerGen++

	if r.timerStop != nil {
		close(r.timerStop)
		r.timerStop = nil
	}
}

// runTurnTimer ticks once per second, reporting the remaining time, and fires
// a single expiry event when the countdown reaches zero.
func runTurnTimer(events chan<- timerEvent, gen int, seconds int, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := seconds

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			remaining--

			event := timerEvent{gen: gen, remaining: remaining}
			if remaining <= 0 {
				event.expired = true
			}

			select {
			case events <- event:
			case <-stop:
				return
			}

			if event.expired {
				return
			}
		}
	}
}
