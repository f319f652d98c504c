package device

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Detector state codes reported by the detector-state signal.
const (
	DetectorStateIdle      = 0
	DetectorStateAcquiring = 2
)

// Image mode codes accepted by the camera image-mode signal.
const (
	ImageModeSingle     = 0
	ImageModeMultiple   = 1
	ImageModeContinuous = 2
)

// CamConfig holds the camera settings applied while a detector is staged.
type CamConfig struct {
	ImageMode      int
	AcquireTime    float64
	NumImages      int
	WaitForPlugins bool
}

// HDF5Config holds the file-writer plugin settings applied while a detector
// is staged. Path templates accept %Y, %m, %d, %H, %M, and %S fields.
type HDF5Config struct {
	WritePathTemplate    string
	ReadPathTemplate     string
	CreateDirectoryDepth int
	BlockingCallbacks    bool
	NumCapture           int
}

// AreaDetectorSignals lists the signals an area detector is driven through.
type AreaDetectorSignals struct {
	Acquire        WritableSignal
	AcquireTime    WritableSignal
	ImageMode      WritableSignal
	NumImages      WritableSignal
	WaitForPlugins WritableSignal
	State          Signal
	ArrayCounter   Signal

	Capture           WritableSignal
	NumCapture        WritableSignal
	BlockingCallbacks WritableSignal
	CreateDirectory   WritableSignal
}

// AreaDetectorConfig assembles an area detector.
type AreaDetectorConfig struct {
	Name    string
	Signals AreaDetectorSignals
	Cam     CamConfig
	HDF5    HDF5Config

	// TriggerTimeout bounds one exposure. Zero disables the deadline.
	TriggerTimeout time.Duration
}

// An AreaDetector drives a frame camera with a file-writer plugin. Staging
// applies the configured camera and file-writer settings to the hardware in
// a fixed order, with the capture arm last, and caches the prior values;
// unstaging restores them in reverse. Triggering starts one exposure and
// resolves when the acquire signal drops back to zero.
type AreaDetector struct {
	name    string
	sigs    AreaDetectorSignals
	cam     CamConfig
	hdf     HDF5Config
	timeout time.Duration

	mu        sync.Mutex
	staged    bool
	restore   []sigValue
	writePath string
	readPath  string
}

type sigValue struct {
	sig   WritableSignal
	value float64
}

// NewAreaDetector creates an AreaDetector.
func NewAreaDetector(cfg AreaDetectorConfig) *AreaDetector {
	if cfg.Name == "" {
		panic("detector name must be set")
	}
	mustHaveAllSignals(cfg.Signals)

	return &AreaDetector{
		name:    cfg.Name,
		sigs:    cfg.Signals,
		cam:     cfg.Cam,
		hdf:     cfg.HDF5,
		timeout: cfg.TriggerTimeout,
	}
}

func mustHaveAllSignals(s AreaDetectorSignals) {
	missing := []string{}
	for name, sig := range map[string]Signal{
		"acquire":            s.Acquire,
		"acquire_time":       s.AcquireTime,
		"image_mode":         s.ImageMode,
		"num_images":         s.NumImages,
		"wait_for_plugins":   s.WaitForPlugins,
		"state":              s.State,
		"array_counter":      s.ArrayCounter,
		"capture":            s.Capture,
		"num_capture":        s.NumCapture,
		"blocking_callbacks": s.BlockingCallbacks,
		"create_directory":   s.CreateDirectory,
	} {
		if sig == nil {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		panic(fmt.Sprintf("detector signals missing: %s",
			strings.Join(missing, ", ")))
	}
}

// Name returns the detector name.
func (d *AreaDetector) Name() string {
	return d.name
}

// stagingValues is the ordered staging list. The capture arm stays last so
// every other plugin setting is in place before frames can flow.
func (d *AreaDetector) stagingValues() []sigValue {
	return []sigValue{
		{d.sigs.ImageMode, float64(d.cam.ImageMode)},
		{d.sigs.AcquireTime, d.cam.AcquireTime},
		{d.sigs.NumImages, float64(d.cam.NumImages)},
		{d.sigs.WaitForPlugins, boolValue(d.cam.WaitForPlugins)},
		{d.sigs.CreateDirectory, float64(d.hdf.CreateDirectoryDepth)},
		{d.sigs.BlockingCallbacks, boolValue(d.hdf.BlockingCallbacks)},
		{d.sigs.NumCapture, float64(d.hdf.NumCapture)},
		{d.sigs.Capture, 1},
	}
}

// Stage acquires the detector, applies the staging configuration, and
// resolves the file-writer path templates for this session. A failed write
// rolls the already-applied settings back before returning.
func (d *AreaDetector) Stage() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.staged {
		return fmt.Errorf("detector %s is already staged", d.name)
	}

	now := time.Now()
	d.writePath = resolvePathTemplate(d.hdf.WritePathTemplate, now)
	d.readPath = resolvePathTemplate(d.hdf.ReadPathTemplate, now)

	d.restore = d.restore[:0]
	for _, sv := range d.stagingValues() {
		old := sv.sig.Read()
		if err := sv.sig.Put(sv.value); err != nil {
			d.restoreLocked()
			return fmt.Errorf("staging %s: %w", d.name, err)
		}
		d.restore = append(d.restore, sigValue{sv.sig, old})
	}

	d.staged = true

	return nil
}

// Unstage restores the pre-staging settings in reverse order and releases
// the detector. It keeps restoring past individual write failures so the
// hardware is never left half-released, and reports the first failure.
func (d *AreaDetector) Unstage() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := d.restoreLocked()
	d.staged = false

	return err
}

func (d *AreaDetector) restoreLocked() error {
	var firstErr error
	for i := len(d.restore) - 1; i >= 0; i-- {
		sv := d.restore[i]
		if err := sv.sig.Put(sv.value); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unstaging %s: %w", d.name, err)
		}
	}
	d.restore = d.restore[:0]

	return firstErr
}

// Staged reports whether the detector is currently staged.
func (d *AreaDetector) Staged() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.staged
}

// WritePath returns the resolved file-writer output path for the current
// staging session.
func (d *AreaDetector) WritePath() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writePath
}

// ReadPath returns the resolved readback path for the current staging
// session.
func (d *AreaDetector) ReadPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.readPath
}

// Trigger starts one exposure. The returned status resolves when the
// acquire signal returns to zero.
func (d *AreaDetector) Trigger() *Status {
	d.mu.Lock()
	staged := d.staged
	d.mu.Unlock()

	if !staged {
		return NewFailedStatus(d.name,
			fmt.Errorf("detector %s is not staged", d.name))
	}

	return d.startExposure("exposure complete")
}

// Warmup pushes one frame through the camera and plugins so downstream
// consumers learn the frame dimensions. It blocks until the frame finishes
// or ctx is cancelled. Call it during setup, not mid-scan.
func (d *AreaDetector) Warmup(ctx context.Context) error {
	if err := d.sigs.ImageMode.Put(ImageModeSingle); err != nil {
		return fmt.Errorf("warmup %s: %w", d.name, err)
	}
	if err := d.sigs.NumImages.Put(1); err != nil {
		return fmt.Errorf("warmup %s: %w", d.name, err)
	}

	return d.startExposure("warmup frame").Wait(ctx)
}

func (d *AreaDetector) startExposure(what string) *Status {
	st := NewStatus(d.name, d.timeout, 0)
	st.SetWaitingFor(what)

	sub := d.sigs.Acquire.Subscribe(func(u SignalUpdate) {
		if u.Value == 0 {
			st.SetFinished()
		}
	})

	go func() {
		<-st.Done()
		sub.Cancel()
	}()

	if err := d.sigs.Acquire.Put(1); err != nil {
		st.SetError(fmt.Errorf("triggering %s: %w", d.name, err))
	}

	return st
}

// Read reports the frame counter.
func (d *AreaDetector) Read() ([]Reading, error) {
	return []Reading{{
		Name:      d.name + "_array_counter",
		Value:     d.sigs.ArrayCounter.Read(),
		Timestamp: d.sigs.ArrayCounter.LastTimestamp(),
	}}, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

var pathFieldReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
)

// resolvePathTemplate expands the strftime-style date fields of a path
// template at the given time.
func resolvePathTemplate(tpl string, t time.Time) string {
	if tpl == "" {
		return ""
	}

	return t.Format(pathFieldReplacer.Replace(tpl))
}
