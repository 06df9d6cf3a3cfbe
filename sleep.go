package tether

import "github.com/akmonengine/tether/island"

// updateSleep counts low motion frames for every island member. An island
// falls asleep as a whole, once all of its bodies are below the thresholds
// for FramesToSleep consecutive frames.
func (w *World) updateSleep(islands []*island.Island) {
	sleep := w.cfg.Sleep

	for _, isl := range islands {
		for _, body := range isl.Bodies {
			body.TrackMotion(sleep.LinearThreshold, sleep.AngularThreshold, sleep.FramesToSleep)
		}
		if !isl.CanSleep(sleep.FramesToSleep) {
			continue
		}
		for _, body := range isl.Bodies {
			body.Sleep()
		}
	}

	var sleeping uint64
	for _, body := range w.store.Bodies() {
		if body.IsSleeping {
			sleeping++
		}
	}
	w.metrics.Store(MetricSleeping, sleeping)
}
