package upload

import (
	"sync"
	"time"
)

const defaultThroughputWindow = 10 * time.Second

type throughputSample struct {
	at    time.Time
	bytes int64
}

// ThroughputWindow estimates recent transfer rate over a sliding time window,
// so the estimate reacts to changing network conditions instead of averaging
// over the whole transfer.
type ThroughputWindow struct {
	mu      sync.Mutex
	window  time.Duration
	samples []throughputSample
}

func NewThroughputWindow(window time.Duration) *ThroughputWindow {
	if window <= 0 {
		window = defaultThroughputWindow
	}
	return &ThroughputWindow{window: window}
}

// Observe records bytes transferred now.
func (w *ThroughputWindow) Observe(bytes int64) {
	w.observeAt(time.Now(), bytes)
}

func (w *ThroughputWindow) observeAt(now time.Time, bytes int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(now)
	w.samples = append(w.samples, throughputSample{at: now, bytes: bytes})
}

// Rate returns the estimated bytes/second over the window, 0 when idle.
func (w *ThroughputWindow) Rate() float64 {
	return w.rateAt(time.Now())
}

func (w *ThroughputWindow) rateAt(now time.Time) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(now)

	if len(w.samples) == 0 {
		return 0
	}

	var total int64
	for _, s := range w.samples {
		total += s.bytes
	}

	elapsed := now.Sub(w.samples[0].at)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(total) / elapsed.Seconds()
}

func (w *ThroughputWindow) trim(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}
