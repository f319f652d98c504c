package iocsim

import (
	"sync"
	"time"

	"github.com/scanlab/tomoscan/device"
)

// DefaultExposure is the exposure length used while the acquire-time signal
// holds zero.
const DefaultExposure = 5 * time.Millisecond

// SimDetectorConfig configures a simulated area detector.
type SimDetectorConfig struct {
	Name string

	// DefaultExposure overrides the package default for a zero acquire-time
	// signal.
	DefaultExposure time.Duration
}

// A SimDetector emulates a frame camera with a file-writer plugin. Writing 1
// to its acquire signal starts one exposure on a background goroutine: the
// detector-state signal reports acquiring, the exposure runs for the
// acquire-time signal's value, the frame counter increments, the state
// returns to idle, and the acquire signal drops back to 0. Triggers that
// arrive during an exposure are ignored, as the hardware ignores them.
type SimDetector struct {
	name string

	acquire     *device.SoftSignal
	acquireTime *device.SoftSignal
	imageMode   *device.SoftSignal
	numImages   *device.SoftSignal
	waitPlugins *device.SoftSignal
	state       *device.SoftSignal
	counter     *device.SoftSignal
	capture     *device.SoftSignal
	numCapture  *device.SoftSignal
	blocking    *device.SoftSignal
	createDir   *device.SoftSignal

	defaultExposure time.Duration
	sub             device.Subscription

	mu       sync.Mutex
	exposing bool
	closed   bool
}

// NewSimDetector creates an idle SimDetector.
func NewSimDetector(cfg SimDetectorConfig) *SimDetector {
	if cfg.Name == "" {
		panic("sim detector name must be set")
	}

	d := &SimDetector{
		name:        cfg.Name,
		acquire:     device.NewSoftSignal(cfg.Name+"_acquire", 0),
		acquireTime: device.NewSoftSignal(cfg.Name+"_acquire_time", 0),
		imageMode:   device.NewSoftSignal(cfg.Name+"_image_mode", 0),
		numImages:   device.NewSoftSignal(cfg.Name+"_num_images", 1),
		waitPlugins: device.NewSoftSignal(cfg.Name+"_wait_for_plugins", 0),
		state:       device.NewSoftSignal(cfg.Name+"_state", device.DetectorStateIdle),
		counter:     device.NewSoftSignal(cfg.Name+"_array_counter", 0),
		capture:     device.NewSoftSignal(cfg.Name+"_capture", 0),
		numCapture:  device.NewSoftSignal(cfg.Name+"_num_capture", 0),
		blocking:    device.NewSoftSignal(cfg.Name+"_blocking_callbacks", 0),
		createDir:   device.NewSoftSignal(cfg.Name+"_create_directory", 0),

		defaultExposure: cfg.DefaultExposure,
	}

	if d.defaultExposure <= 0 {
		d.defaultExposure = DefaultExposure
	}

	d.sub = d.acquire.Subscribe(d.onAcquire)

	return d
}

// Name returns the detector name.
func (d *SimDetector) Name() string {
	return d.name
}

// Signals returns the signal set the standard area-detector wrapper is
// driven through.
func (d *SimDetector) Signals() device.AreaDetectorSignals {
	return device.AreaDetectorSignals{
		Acquire:        d.acquire,
		AcquireTime:    d.acquireTime,
		ImageMode:      d.imageMode,
		NumImages:      d.numImages,
		WaitForPlugins: d.waitPlugins,
		State:          d.state,
		ArrayCounter:   d.counter,

		Capture:           d.capture,
		NumCapture:        d.numCapture,
		BlockingCallbacks: d.blocking,
		CreateDirectory:   d.createDir,
	}
}

// Acquire returns the acquire signal, the hardware trigger input.
func (d *SimDetector) Acquire() device.WritableSignal {
	return d.acquire
}

// State returns the detector-state signal.
func (d *SimDetector) State() device.Signal {
	return d.state
}

// ArrayCounter returns the frame-counter signal.
func (d *SimDetector) ArrayCounter() device.Signal {
	return d.counter
}

// Detector wraps the camera behind the standard area-detector contract.
func (d *SimDetector) Detector(
	cam device.CamConfig,
	hdf device.HDF5Config,
	triggerTimeout time.Duration,
) *device.AreaDetector {
	return device.NewAreaDetector(device.AreaDetectorConfig{
		Name:           d.name,
		Signals:        d.Signals(),
		Cam:            cam,
		HDF5:           hdf,
		TriggerTimeout: triggerTimeout,
	})
}

// Close detaches the camera from its acquire signal. An exposure already in
// flight still completes.
func (d *SimDetector) Close() {
	d.sub.Cancel()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *SimDetector) onAcquire(u device.SignalUpdate) {
	if u.Value != 1 {
		return
	}

	d.mu.Lock()
	if d.exposing || d.closed {
		d.mu.Unlock()
		return
	}
	d.exposing = true
	d.mu.Unlock()

	go d.expose()
}

func (d *SimDetector) expose() {
	d.state.Put(device.DetectorStateAcquiring)

	exposure := time.Duration(d.acquireTime.Read() * float64(time.Second))
	if exposure <= 0 {
		exposure = d.defaultExposure
	}
	time.Sleep(exposure)

	d.counter.Put(d.counter.Read() + 1)
	d.state.Put(device.DetectorStateIdle)
	d.acquire.Put(0)

	d.mu.Lock()
	d.exposing = false
	d.mu.Unlock()
}
