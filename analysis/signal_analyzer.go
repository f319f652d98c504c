// Package analysis periodically summarizes signal levels into the scan
// database.
package analysis

import (
	"sync"
	"time"

	"github.com/tebeka/atexit"

	"github.com/scanlab/tomoscan/device"
)

// SignalAnalyzer keeps a time-weighted average of one signal and writes it
// out as one sample entry per period.
type SignalAnalyzer struct {
	SampleLogger
	Clock

	sig       device.Signal
	usePeriod bool
	period    time.Duration
	unit      string

	mu             sync.Mutex
	start          time.Time
	lastTime       time.Time
	lastValue      float64
	weightedSum    float64
	coveredSeconds float64
	summarized     bool
}

// OnUpdate folds one value change into the running window. It is meant to be
// subscribed to the signal, so it can arrive on whatever goroutine drives
// the hardware.
func (a *SignalAnalyzer) OnUpdate(u device.SignalUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := u.Timestamp
	if now.Before(a.lastTime) {
		// Concurrent puts can deliver timestamps out of order.
		now = a.lastTime
	}

	if a.usePeriod {
		periodEnd := a.lastTime.Truncate(a.period).Add(a.period)
		if now.After(periodEnd) {
			a.summarizeLocked(now)
		}
	}

	dt := now.Sub(a.lastTime).Seconds()
	a.weightedSum += a.lastValue * dt
	a.coveredSeconds += dt
	a.lastValue = u.Value
	a.lastTime = now
	a.summarized = false
}

// Summarize writes out everything observed so far, including the window
// still in progress. It runs at experiment teardown and again from an
// atexit hook, so a second call is a no-op until new updates arrive.
func (a *SignalAnalyzer) Summarize() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.summarized {
		return
	}

	now := a.Now()
	if now.Before(a.lastTime) {
		now = a.lastTime
	}

	a.summarizeLocked(now)

	if a.usePeriod {
		a.flushWindow(a.lastTime.Truncate(a.period), now, now)
	}

	a.weightedSum = 0
	a.coveredSeconds = 0
	a.lastTime = now
	a.summarized = true
}

// summarizeLocked writes every period that completed before now. Without a
// period the whole session is one window.
func (a *SignalAnalyzer) summarizeLocked(now time.Time) {
	if !a.usePeriod {
		a.flushWindow(a.start, now, now)
		return
	}

	periodStart := a.lastTime.Truncate(a.period)
	periodEnd := periodStart.Add(a.period)

	for periodEnd.Before(now) {
		a.flushWindow(periodStart, periodEnd, now)

		a.weightedSum = 0
		a.coveredSeconds = 0
		a.lastTime = periodEnd
		periodStart = periodEnd
		periodEnd = periodStart.Add(a.period)
	}
}

func (a *SignalAnalyzer) flushWindow(start, end, now time.Time) {
	weighted := a.weightedSum
	covered := a.coveredSeconds

	stop := end
	if now.Before(stop) {
		stop = now
	}

	if stop.After(a.lastTime) {
		dt := stop.Sub(a.lastTime).Seconds()
		weighted += a.lastValue * dt
		covered += dt
	}

	if covered == 0 {
		return
	}

	a.AddSample(SampleEntry{
		Start: start,
		End:   end,
		Where: a.sig.Name(),
		What:  "Level",
		Value: weighted / covered,
		Unit:  a.unit,
	})
}

// SignalAnalyzerBuilder can build a SignalAnalyzer.
type SignalAnalyzerBuilder struct {
	logger    SampleLogger
	clock     Clock
	sig       device.Signal
	usePeriod bool
	period    time.Duration
	unit      string
}

// MakeSignalAnalyzerBuilder creates a SignalAnalyzerBuilder.
func MakeSignalAnalyzerBuilder() SignalAnalyzerBuilder {
	return SignalAnalyzerBuilder{}
}

// WithSampleLogger sets the logger that records the samples.
func (b SignalAnalyzerBuilder) WithSampleLogger(
	l SampleLogger,
) SignalAnalyzerBuilder {
	b.logger = l
	return b
}

// WithClock sets the clock the analyzer reads at summarization.
func (b SignalAnalyzerBuilder) WithClock(c Clock) SignalAnalyzerBuilder {
	b.clock = c
	return b
}

// WithSignal sets the signal to sample.
func (b SignalAnalyzerBuilder) WithSignal(
	sig device.Signal,
) SignalAnalyzerBuilder {
	b.sig = sig
	return b
}

// WithPeriod sets the summarization period. Periods are aligned to
// wall-clock multiples of the period.
func (b SignalAnalyzerBuilder) WithPeriod(
	period time.Duration,
) SignalAnalyzerBuilder {
	b.usePeriod = true
	b.period = period
	return b
}

// WithUnit sets the unit recorded with each sample.
func (b SignalAnalyzerBuilder) WithUnit(unit string) SignalAnalyzerBuilder {
	b.unit = unit
	return b
}

// Build creates a SignalAnalyzer.
func (b SignalAnalyzerBuilder) Build() *SignalAnalyzer {
	if b.logger == nil {
		panic("SignalAnalyzer requires a SampleLogger")
	}

	if b.clock == nil {
		panic("SignalAnalyzer requires a Clock")
	}

	if b.sig == nil {
		panic("SignalAnalyzer requires a Signal")
	}

	if b.usePeriod && b.period <= 0 {
		panic("SignalAnalyzer period must be positive")
	}

	now := b.clock.Now()
	a := &SignalAnalyzer{
		SampleLogger: b.logger,
		Clock:        b.clock,
		sig:          b.sig,
		usePeriod:    b.usePeriod,
		period:       b.period,
		unit:         b.unit,
		start:        now,
		lastTime:     now,
		lastValue:    b.sig.Read(),
	}

	atexit.Register(func() { a.Summarize() })

	return a
}
