// Package keepalive implements the Pinger: the one-shot keep-alive timer
// that drives PINGREQ emission and detects an unresponsive peer.
package keepalive

import "time"

// Pinger implements the reset/doPing keep-alive scheme: Reset cancels any
// pending timer and, if the interval is positive, arms a new one. When
// the timer fires it checks the isReset flag: if a Reset happened since
// the timer was last armed, it clears the flag, invokes OnPing to
// transmit a PINGREQ, and re-arms; otherwise the peer has gone quiet for
// two consecutive intervals and OnTimeout fires.
//
// The timer fires on its own goroutine, like any time.Timer. To preserve
// this module's single-threaded-cooperative assumption, Pinger does not
// call OnPing/OnTimeout from that goroutine directly: the fired timer
// only signals C, and the owning connection loop is expected to select
// on C and call Fire from its own goroutine.
type Pinger struct {
	interval time.Duration
	timer    *time.Timer
	isReset  bool
	signal   chan struct{}

	// OnPing transmits a PINGREQ directly over the transport, bypassing
	// the outbound queue (PINGREQ carries no ordering semantics).
	OnPing func()
	// OnTimeout is invoked when the peer produced no PINGRESP and no
	// outbound frame reset the timer during an entire interval following
	// the PINGREQ.
	OnTimeout func()
}

// New returns a Pinger for the given keep-alive interval. An interval of
// zero (or negative) disables pinging entirely: Reset becomes a no-op and
// the timer is never armed.
func New(interval time.Duration) *Pinger {
	return &Pinger{interval: interval, signal: make(chan struct{}, 1)}
}

// C delivers a value each time the underlying timer fires. The owning
// loop must call Fire in response to a value arriving on C.
func (p *Pinger) C() <-chan struct{} { return p.signal }

// Reset marks recent activity (a successful outbound frame or a received
// PINGRESP), cancels any pending timer, and arms a new one.
func (p *Pinger) Reset() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.isReset = true
	if p.interval <= 0 {
		p.timer = nil
		return
	}
	p.timer = time.AfterFunc(p.interval, p.notify)
}

func (p *Pinger) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

// Fire runs the doPing check. Call it from the owning loop whenever C
// delivers a value.
func (p *Pinger) Fire() {
	if p.isReset {
		p.isReset = false
		if p.OnPing != nil {
			p.OnPing()
		}
		if p.interval > 0 {
			p.timer = time.AfterFunc(p.interval, p.notify)
		}
		return
	}
	if p.OnTimeout != nil {
		p.OnTimeout()
	}
}

// Stop cancels any pending timer, used when tearing the pinger down on
// disconnect.
func (p *Pinger) Stop() {
	if p.timer != nil {
		p.timer.Stop()
	}
}
