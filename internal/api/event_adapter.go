package api

import (
	"sync"
	"time"

	"alphabias/internal/biaspull"
	"alphabias/internal/study"
)

// TrialBroadcaster adapts the SSEHub to the study trial observer
type TrialBroadcaster struct {
	hub    *SSEHub
	trials int

	mu   sync.Mutex
	done map[string]int
}

var _ study.Observer = (*TrialBroadcaster)(nil)

// NewTrialBroadcaster creates a broadcaster for studies of the given trial count
func NewTrialBroadcaster(hub *SSEHub, trials int) *TrialBroadcaster {
	return &TrialBroadcaster{hub: hub, trials: trials, done: make(map[string]int)}
}

// ObserveTrial sends a trial event with the channel's completed fraction
func (b *TrialBroadcaster) ObserveTrial(channel string, r biaspull.TrialResult, elapsed time.Duration) {
	b.mu.Lock()
	b.done[channel]++
	n := b.done[channel]
	if b.trials > 0 && n >= b.trials {
		delete(b.done, channel)
	}
	b.mu.Unlock()

	progress := 0.0
	if b.trials > 0 {
		progress = float64(n) / float64(b.trials)
	}
	b.hub.Broadcast(StudyEvent{
		Channel:   channel,
		EventType: "trial",
		Trial:     r.Index,
		Progress:  progress,
		Data: map[string]interface{}{
			"converged":    r.Converged,
			"aborted":      r.Aborted,
			"bias":         r.Bias,
			"bias_defined": r.BiasDefined,
			"pull":         r.Pull,
			"seconds":      elapsed.Seconds(),
		},
		Timestamp: time.Now(),
	})
}
