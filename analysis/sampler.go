package analysis

import (
	"sync"
	"time"

	"github.com/tebeka/atexit"

	"github.com/scanlab/tomoscan/datarecording"
	"github.com/scanlab/tomoscan/device"
)

// Sampler attaches signal analyzers that share one logger, clock, and
// period, and tears them down together.
type Sampler struct {
	logger    SampleLogger
	clock     Clock
	usePeriod bool
	period    time.Duration

	mu         sync.Mutex
	analyzers  []*SignalAnalyzer
	subs       []device.Subscription
	terminated bool
}

// RegisterSignal starts sampling sig until the sampler terminates.
func (s *Sampler) RegisterSignal(sig device.Signal) {
	builder := MakeSignalAnalyzerBuilder().
		WithSampleLogger(s.logger).
		WithClock(s.clock).
		WithSignal(sig)

	if s.usePeriod {
		builder = builder.WithPeriod(s.period)
	}

	analyzer := builder.Build()
	sub := sig.Subscribe(analyzer.OnUpdate)

	s.mu.Lock()
	s.analyzers = append(s.analyzers, analyzer)
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Terminate detaches from the signals and writes the in-progress windows
// out. Calling it again does nothing.
func (s *Sampler) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	analyzers := s.analyzers
	subs := s.subs
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}

	for _, analyzer := range analyzers {
		analyzer.Summarize()
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time {
	return time.Now()
}

// SamplerBuilder can build a Sampler.
type SamplerBuilder struct {
	logger   SampleLogger
	recorder datarecording.DataRecorder
	clock    Clock

	usePeriod bool
	period    time.Duration
}

// MakeSamplerBuilder creates a SamplerBuilder.
func MakeSamplerBuilder() SamplerBuilder {
	return SamplerBuilder{}
}

// WithSampleLogger sets the logger directly, overriding WithRecorder.
func (b SamplerBuilder) WithSampleLogger(l SampleLogger) SamplerBuilder {
	b.logger = l
	return b
}

// WithRecorder makes the sampler log into the signal_samples table of the
// given recorder.
func (b SamplerBuilder) WithRecorder(
	recorder datarecording.DataRecorder,
) SamplerBuilder {
	b.recorder = recorder
	return b
}

// WithClock sets the clock. The default is the wall clock.
func (b SamplerBuilder) WithClock(c Clock) SamplerBuilder {
	b.clock = c
	return b
}

// WithPeriod sets the summarization period for every registered signal.
func (b SamplerBuilder) WithPeriod(period time.Duration) SamplerBuilder {
	b.usePeriod = true
	b.period = period
	return b
}

// Build creates a Sampler.
func (b SamplerBuilder) Build() *Sampler {
	logger := b.logger
	if logger == nil {
		if b.recorder == nil {
			panic("Sampler requires a SampleLogger or a DataRecorder")
		}

		logger = NewDBSampleLogger(b.recorder)
	}

	clock := b.clock
	if clock == nil {
		clock = wallClock{}
	}

	s := &Sampler{
		logger:    logger,
		clock:     clock,
		usePeriod: b.usePeriod,
		period:    b.period,
	}

	atexit.Register(func() { s.Terminate() })

	return s
}
