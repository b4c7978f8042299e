package rtc

import (
	"sync"
	"time"

	"callkit/internal/log"

	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v3"
)

const maxStatsHistory = 30

// statsSource is either of the two peer connections.
type statsSource interface {
	GetStats() webrtc.StatsReport
}

// StatsSample is one periodic reading of both peer connections.
type StatsSample struct {
	At         time.Time
	Publisher  webrtc.StatsReport
	Subscriber webrtc.StatsReport

	// TrackedSessions lists the participants enhanced reporting was
	// enabled for when the sample was taken.
	TrackedSessions []string
}

// StatsReporter samples connection-level statistics from the publisher
// and subscriber on a fixed interval and keeps a bounded history.
type StatsReporter struct {
	publisher  statsSource
	subscriber statsSource
	interval   time.Duration

	mu      sync.Mutex
	tracked map[string]struct{}
	history *deque.Deque[StatsSample]

	done     chan struct{}
	stopOnce sync.Once
}

func NewStatsReporter(publisher, subscriber statsSource, interval time.Duration) *StatsReporter {
	return &StatsReporter{
		publisher:  publisher,
		subscriber: subscriber,
		interval:   interval,
		tracked:    make(map[string]struct{}),
		history:    deque.New[StatsSample](maxStatsHistory),
		done:       make(chan struct{}),
	}
}

// Start launches the sampling loop.
func (r *StatsReporter) Start() {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.sample()
			}
		}
	}()
}

func (r *StatsReporter) sample() {
	sample := StatsSample{
		At:         time.Now(),
		Publisher:  r.publisher.GetStats(),
		Subscriber: r.subscriber.GetStats(),
	}

	r.mu.Lock()
	for sessionID := range r.tracked {
		sample.TrackedSessions = append(sample.TrackedSessions, sessionID)
	}
	if r.history.Len() == maxStatsHistory {
		r.history.PopFront()
	}
	r.history.PushBack(sample)
	r.mu.Unlock()

	log.Debugf("stats sample taken, %d tracked sessions", len(sample.TrackedSessions))
}

// GetRawStats returns the latest raw report for "publisher" or
// "subscriber".
func (r *StatsReporter) GetRawStats(kind string) webrtc.StatsReport {
	if kind == "publisher" {
		return r.publisher.GetStats()
	}
	return r.subscriber.GetStats()
}

// StartReportingStatsFor enables enhanced reporting for one
// participant. Idempotent per target and independent of other targets.
func (r *StatsReporter) StartReportingStatsFor(sessionID string) {
	r.mu.Lock()
	r.tracked[sessionID] = struct{}{}
	r.mu.Unlock()
}

// StopReportingStatsFor is the opposite of StartReportingStatsFor.
func (r *StatsReporter) StopReportingStatsFor(sessionID string) {
	r.mu.Lock()
	delete(r.tracked, sessionID)
	r.mu.Unlock()
}

// Recent returns the buffered samples, oldest first.
func (r *StatsReporter) Recent() []StatsSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatsSample, 0, r.history.Len())
	for i := 0; i < r.history.Len(); i++ {
		out = append(out, r.history.At(i))
	}
	return out
}

// Stop ends the sampling loop. Idempotent.
func (r *StatsReporter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}
