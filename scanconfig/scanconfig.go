// Package scanconfig loads scan definitions from HCL files. A scan file
// configures the session (database, live table, tracing, monitoring) and
// lists the scans to run, one block per scan:
//
//	session {
//	  database   = "scans/${env.BEAMLINE}_today"
//	  live_table = true
//	}
//
//	scan "pulse_sync" "coarse" {
//	  detectors = ["det"]
//	  motor     = "motor1"
//	  laser     = "laser1"
//	  start     = 0
//	  stop      = 180
//	  steps     = 5
//	}
//
// The package only decodes and validates; binding device names to actual
// hardware is the caller's job.
package scanconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Variant names accepted as the first label of a scan block.
const (
	VariantScan      = "scan"
	VariantMulti     = "multi"
	VariantPulseSync = "pulse_sync"
	VariantPassive   = "passive"
	VariantCount     = "count"
)

// A File is the decoded content of one scan-definition file.
type File struct {
	Session Session
	Scans   []ScanDef
}

// Session configures the session the scans run in.
type Session struct {
	// Database is the session database path. Empty means a generated name.
	Database string

	LiveTable    bool
	Tracing      bool
	SamplePeriod time.Duration

	Monitor     bool
	MonitorPort int
	OpenBrowser bool
}

// DefaultSession returns the session settings used when a file has no
// session block.
func DefaultSession() Session {
	return Session{
		LiveTable:    true,
		Tracing:      true,
		SamplePeriod: time.Second,
	}
}

// A ScanDef describes one scan to run. Which fields are set depends on the
// variant; device fields hold the names the caller resolves against its
// device registry.
type ScanDef struct {
	Variant string
	Name    string

	Detectors []string
	Motor     string
	Laser     string

	Start float64
	Stop  float64
	Steps int

	// Repeats is the readings-per-position count of the multi variant.
	Repeats int

	// Num and Delay configure the count variant.
	Num   int
	Delay time.Duration

	// StateSignal and PulseID name the detector-state signal and the
	// pulse-identifier device of the passive variant.
	StateSignal string
	PulseID     string
}

type fileHCL struct {
	Session *sessionHCL `hcl:"session,block"`
	Scans   []scanHCL   `hcl:"scan,block"`
}

type sessionHCL struct {
	Database    *string `hcl:"database,optional"`
	LiveTable   *bool   `hcl:"live_table,optional"`
	Tracing     *bool   `hcl:"tracing,optional"`
	SampleEvery *string `hcl:"sample_every,optional"`
	Monitor     *bool   `hcl:"monitor,optional"`
	MonitorPort *int    `hcl:"monitor_port,optional"`
	OpenBrowser *bool   `hcl:"open_browser,optional"`
}

type scanHCL struct {
	Variant string   `hcl:"variant,label"`
	Name    string   `hcl:"name,label"`
	Body    hcl.Body `hcl:",remain"`
}

type stepScanBody struct {
	Detectors []string `hcl:"detectors"`
	Motor     string   `hcl:"motor"`
	Start     float64  `hcl:"start"`
	Stop      float64  `hcl:"stop"`
	Steps     int      `hcl:"steps"`
}

type multiScanBody struct {
	Detectors []string `hcl:"detectors"`
	Motor     string   `hcl:"motor"`
	Start     float64  `hcl:"start"`
	Stop      float64  `hcl:"stop"`
	Steps     int      `hcl:"steps"`
	Repeats   *int     `hcl:"repeats,optional"`
}

type pulseSyncBody struct {
	Detectors []string `hcl:"detectors"`
	Motor     string   `hcl:"motor"`
	Laser     string   `hcl:"laser"`
	Start     float64  `hcl:"start"`
	Stop      float64  `hcl:"stop"`
	Steps     int      `hcl:"steps"`
}

type passiveBody struct {
	Detectors   []string `hcl:"detectors,optional"`
	Motor       string   `hcl:"motor"`
	StateSignal string   `hcl:"state_signal"`
	PulseID     string   `hcl:"pulse_id"`
	Start       float64  `hcl:"start"`
	Stop        float64  `hcl:"stop"`
	Steps       int      `hcl:"steps"`
}

type countBody struct {
	Detectors []string `hcl:"detectors"`
	Num       int      `hcl:"num"`
	Delay     *string  `hcl:"delay,optional"`
}

// Load reads and decodes the scan-definition file at path.
func Load(path string) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}

	return decodeFile(f, path)
}

// Parse decodes scan definitions from src. The filename only labels
// diagnostics.
func Parse(src []byte, filename string) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", filename, diags)
	}

	return decodeFile(f, filename)
}

func decodeFile(f *hcl.File, filename string) (*File, error) {
	ctx := evalContext()

	var raw fileHCL
	if diags := gohcl.DecodeBody(f.Body, ctx, &raw); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", filename, diags)
	}

	out := &File{Session: DefaultSession()}

	if raw.Session != nil {
		if err := applySession(&out.Session, raw.Session); err != nil {
			return nil, err
		}
	}

	if len(raw.Scans) == 0 {
		return nil, fmt.Errorf("%s defines no scan blocks", filename)
	}

	seen := make(map[string]bool)
	for _, s := range raw.Scans {
		def, err := decodeScan(s, ctx)
		if err != nil {
			return nil, err
		}

		if seen[def.Name] {
			return nil, fmt.Errorf("duplicate scan name %q", def.Name)
		}
		seen[def.Name] = true

		out.Scans = append(out.Scans, def)
	}

	return out, nil
}

func applySession(session *Session, raw *sessionHCL) error {
	if raw.Database != nil {
		session.Database = *raw.Database
	}
	if raw.LiveTable != nil {
		session.LiveTable = *raw.LiveTable
	}
	if raw.Tracing != nil {
		session.Tracing = *raw.Tracing
	}
	if raw.SampleEvery != nil {
		period, err := time.ParseDuration(*raw.SampleEvery)
		if err != nil {
			return fmt.Errorf("session sample_every: %w", err)
		}
		session.SamplePeriod = period
	}
	if raw.Monitor != nil {
		session.Monitor = *raw.Monitor
	}
	if raw.MonitorPort != nil {
		session.MonitorPort = *raw.MonitorPort
	}
	if raw.OpenBrowser != nil {
		session.OpenBrowser = *raw.OpenBrowser
	}

	return nil
}

func decodeScan(s scanHCL, ctx *hcl.EvalContext) (ScanDef, error) {
	def := ScanDef{Variant: s.Variant, Name: s.Name}
	if def.Name == "" {
		return def, fmt.Errorf("a scan block needs a non-empty name label")
	}

	switch s.Variant {
	case VariantScan:
		var body stepScanBody
		if diags := gohcl.DecodeBody(s.Body, ctx, &body); diags.HasErrors() {
			return def, scanError(def, diags)
		}
		def.Detectors = body.Detectors
		def.Motor = body.Motor
		def.Start, def.Stop, def.Steps = body.Start, body.Stop, body.Steps

	case VariantMulti:
		var body multiScanBody
		if diags := gohcl.DecodeBody(s.Body, ctx, &body); diags.HasErrors() {
			return def, scanError(def, diags)
		}
		def.Detectors = body.Detectors
		def.Motor = body.Motor
		def.Start, def.Stop, def.Steps = body.Start, body.Stop, body.Steps
		def.Repeats = 1
		if body.Repeats != nil {
			def.Repeats = *body.Repeats
		}
		if def.Repeats < 1 {
			return def, fmt.Errorf(
				"scan %q: a scan needs at least 1 repeat per step, got %d",
				def.Name, def.Repeats)
		}

	case VariantPulseSync:
		var body pulseSyncBody
		if diags := gohcl.DecodeBody(s.Body, ctx, &body); diags.HasErrors() {
			return def, scanError(def, diags)
		}
		def.Detectors = body.Detectors
		def.Motor = body.Motor
		def.Laser = body.Laser
		def.Start, def.Stop, def.Steps = body.Start, body.Stop, body.Steps

	case VariantPassive:
		var body passiveBody
		if diags := gohcl.DecodeBody(s.Body, ctx, &body); diags.HasErrors() {
			return def, scanError(def, diags)
		}
		def.Detectors = body.Detectors
		def.Motor = body.Motor
		def.StateSignal = body.StateSignal
		def.PulseID = body.PulseID
		def.Start, def.Stop, def.Steps = body.Start, body.Stop, body.Steps

	case VariantCount:
		var body countBody
		if diags := gohcl.DecodeBody(s.Body, ctx, &body); diags.HasErrors() {
			return def, scanError(def, diags)
		}
		def.Detectors = body.Detectors
		def.Num = body.Num
		if body.Delay != nil {
			delay, err := time.ParseDuration(*body.Delay)
			if err != nil {
				return def, fmt.Errorf("scan %q: delay: %w", def.Name, err)
			}
			def.Delay = delay
		}
		if def.Num < 1 {
			return def, fmt.Errorf(
				"scan %q: a count needs at least 1 reading, got %d",
				def.Name, def.Num)
		}

		return def, nil

	default:
		return def, fmt.Errorf(
			"scan %q: unknown variant %q (want %s)",
			s.Name, s.Variant, strings.Join([]string{
				VariantScan, VariantMulti, VariantPulseSync,
				VariantPassive, VariantCount,
			}, ", "))
	}

	if def.Steps < 2 {
		return def, fmt.Errorf(
			"scan %q: a scan needs at least 2 steps, got %d",
			def.Name, def.Steps)
	}

	return def, nil
}

func scanError(def ScanDef, diags hcl.Diagnostics) error {
	return fmt.Errorf("scan %q: %w", def.Name, diags)
}

// evalContext exposes the process environment to scan files as the env
// object, so paths and device names can come from the deployment:
//
//	database = "scans/${env.BEAMLINE}"
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
