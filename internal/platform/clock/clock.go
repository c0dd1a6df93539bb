package clock

import "time"

// Clock abstracts time so compile timings are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed reports the same instant on every call.
type Fixed time.Time

func (f Fixed) Now() time.Time {
	return time.Time(f)
}
