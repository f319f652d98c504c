package monitoring

import (
	"sync"

	"github.com/scanlab/tomoscan/scan"
)

// ScanProgress mirrors run documents into monitor progress bars, one bar
// per run. Subscribe it to a run engine to make every run show up in the
// monitoring tool.
type ScanProgress struct {
	monitor *Monitor

	mu   sync.Mutex
	bars map[string]*ProgressBar
}

var _ scan.DocumentSubscriber = (*ScanProgress)(nil)

// NewScanProgress creates a ScanProgress that feeds the given monitor.
func NewScanProgress(m *Monitor) *ScanProgress {
	return &ScanProgress{
		monitor: m,
		bars:    make(map[string]*ProgressBar),
	}
}

// OnRunStart opens a bar sized by the number of events the plan is
// expected to emit.
func (p *ScanProgress) OnRunStart(doc scan.RunStart) {
	name := doc.Plan
	if len(doc.UID) >= 8 {
		name = doc.Plan + " " + doc.UID[:8]
	}

	bar := p.monitor.CreateProgressBar(name, expectedEvents(doc.Metadata))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.bars[doc.UID] = bar
}

// OnEvent advances the bar of the run the event belongs to.
func (p *ScanProgress) OnEvent(doc scan.Event) {
	p.mu.Lock()
	bar := p.bars[doc.RunUID]
	p.mu.Unlock()

	if bar == nil {
		return
	}

	bar.IncrementFinished(1)
}

// OnRunStop completes the bar and removes it from the monitor.
func (p *ScanProgress) OnRunStop(doc scan.RunStop) {
	p.mu.Lock()
	bar := p.bars[doc.RunUID]
	delete(p.bars, doc.RunUID)
	p.mu.Unlock()

	if bar == nil {
		return
	}

	p.monitor.CompleteProgressBar(bar)
}

// expectedEvents derives the number of event documents a plan will emit
// from its open-run metadata. Zero means the total is unknown.
func expectedEvents(md map[string]interface{}) uint64 {
	if n, ok := md["num"].(int); ok {
		if n < 0 {
			return 0
		}

		return uint64(n)
	}

	steps, ok := md["steps"].(int)
	if !ok || steps < 0 {
		return 0
	}

	total := steps
	if repeats, ok := md["repeats"].(int); ok && repeats > 0 {
		total *= repeats
	}

	return uint64(total)
}
