package export

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

const (
	// DefaultQueueSize is used when NewPipeline is given a non-positive size.
	DefaultQueueSize = 1024

	// sinkTimeout bounds a single Export call.
	sinkTimeout = 5 * time.Second
)

// Sink receives publications from the pipeline worker.
type Sink interface {
	Name() string
	Export(ctx context.Context, pub telemetry.Publication) error
	Close() error
}

// Stats is a point-in-time view of pipeline counters.
type Stats struct {
	Sinks    []string `json:"sinks"`
	Queued   int      `json:"queued"`
	Capacity int      `json:"capacity"`
	Offered  uint64   `json:"offered"`
	Dropped  uint64   `json:"dropped"`
	Exported uint64   `json:"exported"`
	Failed   uint64   `json:"failed"`
}

// Pipeline is a bounded queue with one worker fanning out to sinks.
//
// Thread Safety: Offer and Stats are safe for concurrent use. Run must be
// called once.
type Pipeline struct {
	queue  chan telemetry.Publication
	sinks  []Sink
	logger *logging.Logger

	offered  atomic.Uint64
	dropped  atomic.Uint64
	exported atomic.Uint64
	failed   atomic.Uint64

	closeOnce sync.Once
}

// NewPipeline creates a pipeline over sinks. Nothing is exported until Run.
func NewPipeline(size int, logger *logging.Logger, sinks ...Sink) *Pipeline {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		queue:  make(chan telemetry.Publication, size),
		sinks:  sinks,
		logger: logger.With("component", "export"),
	}
}

// Enabled reports whether any sink is configured.
func (p *Pipeline) Enabled() bool { return len(p.sinks) > 0 }

// Offer queues pub without blocking. It returns false, and counts a drop,
// when the queue is full.
func (p *Pipeline) Offer(pub telemetry.Publication) bool {
	if !p.Enabled() {
		return false
	}
	p.offered.Add(1)
	select {
	case p.queue <- pub:
		return true
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warn("export queue full, dropping publications",
				"dropped_total", p.dropped.Load(),
			)
		}
		return false
	}
}

// Observer adapts Offer to a session observer callback.
func (p *Pipeline) Observer() func(telemetry.Publication) {
	return func(pub telemetry.Publication) { p.Offer(pub) }
}

// Run drains the queue until ctx is cancelled, then exports whatever is
// still queued before returning.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case pub := <-p.queue:
			p.export(ctx, pub)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *Pipeline) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	for {
		select {
		case pub := <-p.queue:
			p.export(ctx, pub)
		default:
			return
		}
	}
}

func (p *Pipeline) export(ctx context.Context, pub telemetry.Publication) {
	for _, sink := range p.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
		err := sink.Export(sinkCtx, pub)
		cancel()
		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("export failed",
				"sink", sink.Name(),
				"topic", pub.Record.Topic,
				"error", err,
			)
			continue
		}
		p.exported.Add(1)
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	names := make([]string, 0, len(p.sinks))
	for _, s := range p.sinks {
		names = append(names, s.Name())
	}
	return Stats{
		Sinks:    names,
		Queued:   len(p.queue),
		Capacity: cap(p.queue),
		Offered:  p.offered.Load(),
		Dropped:  p.dropped.Load(),
		Exported: p.exported.Load(),
		Failed:   p.failed.Load(),
	}
}

// Close closes every sink. Call it after Run has returned.
func (p *Pipeline) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		for _, s := range p.sinks {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
