package chathub

import "time"

// IdleTimer fires once a stream has carried no events for a while.
// A zero timeout yields a timer that never fires.
type IdleTimer struct {
	t *time.Timer
}

func NewIdleTimer(d time.Duration) *IdleTimer {
	if d <= 0 {
		return &IdleTimer{}
	}
	return &IdleTimer{t: time.NewTimer(d)}
}

// C returns nil for a disabled timer; receiving from it blocks forever.
func (i *IdleTimer) C() <-chan time.Time {
	if i.t == nil {
		return nil
	}
	return i.t.C
}

func (i *IdleTimer) Reset(d time.Duration) {
	if i.t == nil {
		return
	}
	i.t.Stop()
	i.t.Reset(d)
}

func (i *IdleTimer) Stop() {
	if i.t != nil {
		i.t.Stop()
	}
}
