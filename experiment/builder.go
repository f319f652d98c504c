package experiment

import (
	"io"
	"time"

	"github.com/rs/xid"

	"github.com/scanlab/tomoscan/analysis"
	"github.com/scanlab/tomoscan/catalog"
	"github.com/scanlab/tomoscan/datarecording"
	"github.com/scanlab/tomoscan/liveview"
	"github.com/scanlab/tomoscan/monitoring"
	"github.com/scanlab/tomoscan/scan"
	"github.com/scanlab/tomoscan/tracing"
)

// Builder can be used to build an experiment.
type Builder struct {
	dbPath       string
	liveOn       bool
	liveWriter   io.Writer
	tracingOn    bool
	samplePeriod time.Duration
	monitorOn    bool
	monitorPort  int
	openBrowser  bool
}

// MakeBuilder creates a builder with the default configuration: live table
// on, tracing on, one-second signal sampling, monitoring off.
func MakeBuilder() Builder {
	return Builder{
		liveOn:       true,
		tracingOn:    true,
		samplePeriod: time.Second,
	}
}

// WithDatabasePath sets the session database path. The default derives from
// the session ID.
func (b Builder) WithDatabasePath(path string) Builder {
	b.dbPath = path
	return b
}

// WithoutLiveTable disables the console run table.
func (b Builder) WithoutLiveTable() Builder {
	b.liveOn = false
	return b
}

// WithLiveWriter redirects the console run table.
func (b Builder) WithLiveWriter(w io.Writer) Builder {
	b.liveWriter = w
	return b
}

// WithoutTracing disables instruction tracing.
func (b Builder) WithoutTracing() Builder {
	b.tracingOn = false
	return b
}

// WithSamplePeriod sets the signal sampling period. Zero switches the
// sampler to whole-session averages.
func (b Builder) WithSamplePeriod(period time.Duration) Builder {
	b.samplePeriod = period
	return b
}

// WithMonitoring enables the monitoring server. A zero port picks a random
// one.
func (b Builder) WithMonitoring(port int) Builder {
	b.monitorOn = true
	b.monitorPort = port
	return b
}

// WithBrowserOpening makes the monitor open the dashboard on startup.
func (b Builder) WithBrowserOpening() Builder {
	b.openBrowser = true
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.openBrowser {
		panic("browser opening requires monitoring")
	}
}

// Build builds the experiment.
func (b Builder) Build() *Experiment {
	b.parametersMustBeValid()

	e := &Experiment{
		id:          xid.New().String(),
		deviceIndex: make(map[string]int),
	}

	e.dbPath = b.dbPath
	if e.dbPath == "" {
		e.dbPath = "tomoscan_" + e.id
	}
	e.recorder = datarecording.New(e.dbPath)

	e.engine = scan.NewRunEngine()

	e.catalog = catalog.New(e.recorder)
	e.engine.Subscribe(e.catalog)

	if b.liveOn {
		e.engine.Subscribe(liveview.NewTable(b.liveWriter))
	}

	if b.tracingOn {
		e.tracer = tracing.NewDBTracer(tracing.WallClock{}, e.recorder)
		tracing.CollectTrace(e.engine, e.tracer)
	}

	samplerBuilder := analysis.MakeSamplerBuilder().WithRecorder(e.recorder)
	if b.samplePeriod > 0 {
		samplerBuilder = samplerBuilder.WithPeriod(b.samplePeriod)
	}
	e.sampler = samplerBuilder.Build()

	if b.monitorOn {
		e.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			e.monitor.WithPortNumber(b.monitorPort)
		}
		if b.openBrowser {
			e.monitor.WithBrowserOpening()
		}
		e.monitor.RegisterEngine(e.engine)
		e.engine.Subscribe(monitoring.NewScanProgress(e.monitor))
		e.monitor.StartServer()
	}

	return e
}
