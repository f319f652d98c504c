// Package experiment assembles a scan session: the run engine, the session
// database with its catalog and tracer, the live table, the signal sampler,
// and the optional monitor, created together and torn down together.
package experiment

import (
	"github.com/scanlab/tomoscan/analysis"
	"github.com/scanlab/tomoscan/catalog"
	"github.com/scanlab/tomoscan/datarecording"
	"github.com/scanlab/tomoscan/device"
	"github.com/scanlab/tomoscan/monitoring"
	"github.com/scanlab/tomoscan/scan"
	"github.com/scanlab/tomoscan/tracing"
)

// An Experiment owns one scan session. Every document the engine emits goes
// to the session database; devices registered with the experiment are
// inspectable from the monitor, and signals registered with it are sampled
// into the same database.
type Experiment struct {
	id     string
	dbPath string

	engine   *scan.RunEngine
	recorder datarecording.DataRecorder
	catalog  *catalog.Catalog
	tracer   *tracing.DBTracer
	sampler  *analysis.Sampler
	monitor  *monitoring.Monitor

	devices     []device.Named
	deviceIndex map[string]int

	terminated bool
}

// ID returns the session ID.
func (e *Experiment) ID() string {
	return e.id
}

// DatabasePath returns the path of the session database, without the
// .sqlite3 suffix the recorder appends.
func (e *Experiment) DatabasePath() string {
	return e.dbPath
}

// GetEngine returns the run engine of the session.
func (e *Experiment) GetEngine() *scan.RunEngine {
	return e.engine
}

// GetDataRecorder returns the session database recorder.
func (e *Experiment) GetDataRecorder() datarecording.DataRecorder {
	return e.recorder
}

// GetMonitor returns the monitor, or nil when monitoring is disabled.
func (e *Experiment) GetMonitor() *monitoring.Monitor {
	return e.monitor
}

// GetTracer returns the tracer, or nil when tracing is disabled.
func (e *Experiment) GetTracer() *tracing.DBTracer {
	return e.tracer
}

// RegisterDevice adds a device to the session registry and, when the
// monitor is on, makes it inspectable there.
func (e *Experiment) RegisterDevice(d device.Named) {
	name := d.Name()
	if _, ok := e.deviceIndex[name]; ok {
		panic("device " + name + " already registered")
	}

	e.devices = append(e.devices, d)
	e.deviceIndex[name] = len(e.devices) - 1

	if e.monitor != nil {
		e.monitor.RegisterDevice(d)
	}
}

// RegisterSignal adds a signal to the registry and starts sampling it into
// the session database.
func (e *Experiment) RegisterSignal(sig device.Signal) {
	e.RegisterDevice(sig)
	e.sampler.RegisterSignal(sig)
}

// GetDeviceByName returns the registered device with the given name, or nil.
func (e *Experiment) GetDeviceByName(name string) device.Named {
	i, ok := e.deviceIndex[name]
	if !ok {
		return nil
	}

	return e.devices[i]
}

// Devices returns all registered devices in registration order.
func (e *Experiment) Devices() []device.Named {
	return e.devices
}

// Run executes a plan on the session engine. It blocks until the plan
// finishes.
func (e *Experiment) Run(p scan.Plan) error {
	return e.engine.Run(p)
}

// Terminate flushes the sampler and tracer and closes the session database.
// Terminating twice is a no-op.
func (e *Experiment) Terminate() error {
	if e.terminated {
		return nil
	}
	e.terminated = true

	e.sampler.Terminate()
	if e.tracer != nil {
		e.tracer.Terminate()
	}

	return e.recorder.Close()
}
