package coord

import "time"

// Clock supplies the nanosecond timestamps stamped on operations at
// commit time. Implemented by systemClock (production) and
// testutil.DeterministicClock (tests).
type Clock interface {
	Now() int64
}

// systemClock reads the wall clock. Monotonicity across commits is
// enforced by the instance, not here.
type systemClock struct{}

func (systemClock) Now() int64 {
	return time.Now().UnixNano()
}
