// Package shadowlane gates and samples completed jobs for out-of-band
// comparison measurement. The gate is queue-depth driven with hysteresis so
// sampling backs off under load and does not flap at the boundary.
package shadowlane

import (
	"log/slog"
	"math/rand"
	"sync"

	"cardmint/internal/config"
	"cardmint/internal/events"
	"cardmint/internal/logging"
	"cardmint/internal/queue"
)

// Gate is the depth-driven boolean. Disable at depth >= pause, re-enable only
// at depth <= resume (resume < pause).
type Gate struct {
	mu          sync.Mutex
	enabled     bool
	pauseDepth  int
	resumeDepth int
}

// NewGate builds a gate that starts enabled.
func NewGate(pauseDepth, resumeDepth int) *Gate {
	return &Gate{
		enabled:     true,
		pauseDepth:  pauseDepth,
		resumeDepth: resumeDepth,
	}
}

// Observe applies one depth reading and returns the gate state after it.
// Called once per poll cycle.
func (g *Gate) Observe(depth int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.enabled && depth >= g.pauseDepth {
		g.enabled = false
	} else if !g.enabled && depth <= g.resumeDepth {
		g.enabled = true
	}
	return g.enabled
}

// Enabled returns the current gate state without observing a new depth.
func (g *Gate) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

// Lane couples the gate with a random sampler and earmarks completed jobs.
type Lane struct {
	cfg    config.ShadowLane
	gate   *Gate
	bus    *events.Bus
	logger *slog.Logger

	mu   sync.Mutex
	rand func() float64
}

// Option customizes the lane.
type Option func(*Lane)

// WithRandFunc overrides the sampling source (useful for tests).
func WithRandFunc(fn func() float64) Option {
	return func(l *Lane) {
		if fn != nil {
			l.rand = fn
		}
	}
}

// New builds the shadow lane from configuration.
func New(cfg config.ShadowLane, bus *events.Bus, logger *slog.Logger, opts ...Option) *Lane {
	if logger == nil {
		logger = logging.NewNop()
	}
	l := &Lane{
		cfg:    cfg,
		gate:   NewGate(cfg.AutoPauseDepth, cfg.AutoResumeDepth),
		bus:    bus,
		logger: logger.With(logging.String(logging.FieldComponent, "shadowlane")),
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Observe feeds the current queue depth into the gate. Called once per poll.
func (l *Lane) Observe(depth int) bool {
	if !l.cfg.Enabled {
		return false
	}
	before := l.gate.Enabled()
	after := l.gate.Observe(depth)
	if before != after {
		l.logger.Info("shadow lane gate flipped",
			logging.Bool("enabled", after),
			logging.Int("queue_depth", depth))
	}
	return after
}

// Earmark samples a completed job for comparison measurement. Fire and
// forget: the only externally visible effect is a bus event, so the operator
// outcome is never delayed.
func (l *Lane) Earmark(job *queue.ScanJob) bool {
	if job == nil || !l.cfg.Enabled || !l.gate.Enabled() {
		return false
	}
	l.mu.Lock()
	hit := l.rand() < l.cfg.SampleRate
	l.mu.Unlock()
	if !hit {
		return false
	}

	if l.bus != nil {
		l.bus.Publish(events.Event{
			Type:    events.TypeShadowSampled,
			JobID:   job.ID,
			Status:  string(job.Status),
			Payload: map[string]any{"inference_path": job.InferencePath},
		})
	}
	l.logger.Info("job earmarked for shadow comparison",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStatus, string(job.Status)))
	return true
}
