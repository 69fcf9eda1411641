package fsm

import "time"

// serviceButton polls the pairing button, if configured, and triggers
// resetPairing() after a continuous buttonHoldDuration press (§4.8).
func (l *Link) serviceButton(now time.Time) {
	if l.button == nil {
		return
	}
	pressed, err := l.button.Pressed()
	if err != nil {
		l.debug.Printf("fsm: button read failed: %v", err)
		return
	}
	if pressed && !l.buttonWasDown {
		l.buttonDownSince = now
	}
	l.buttonWasDown = pressed
	if pressed && now.Sub(l.buttonDownSince) >= buttonHoldDuration {
		l.ResetPairing()
		// Require the button to be released before it can trigger again.
		l.buttonWasDown = false
	}
}

// serviceIndicator toggles the indicator LED, if configured, at the
// state-specific interval of §4.8. A zero interval means steady-on.
func (l *Link) serviceIndicator(now time.Time) {
	if l.indicator == nil {
		return
	}
	interval, ok := indicatorIntervals[l.state]
	if !ok {
		return
	}
	if interval == 0 {
		l.setIndicator(true)
		return
	}
	if l.lastIndicatorFlip.IsZero() || now.Sub(l.lastIndicatorFlip) >= interval {
		l.lastIndicatorFlip = now
		l.setIndicator(!l.indicatorOn)
	}
}

func (l *Link) setIndicator(on bool) {
	if err := l.indicator.Set(on); err != nil {
		l.debug.Printf("fsm: indicator set failed: %v", err)
		return
	}
	l.indicatorOn = on
}
