package repository

import "time"

// QueryObserver receives database timing per query label.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveDBQuery(string, time.Duration) {}

func observerOrNop(o QueryObserver) QueryObserver {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func track(o QueryObserver, label string) func() {
	start := time.Now()
	return func() { o.ObserveDBQuery(label, time.Since(start)) }
}
