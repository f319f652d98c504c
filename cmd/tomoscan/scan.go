package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/scanlab/tomoscan/device"
	"github.com/scanlab/tomoscan/experiment"
	"github.com/scanlab/tomoscan/scan"
	"github.com/scanlab/tomoscan/scanconfig"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run scans against the simulated beamline.",
	Long: `Run one scan configured by flags, or every scan of an HCL scan ` +
		`file given with --config. With --config the session settings come ` +
		`from the file and the per-scan flags are ignored; --db still ` +
		`overrides the database path. Every run lands in the session ` +
		`database named at the end.`,
	Run: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()

	flags.String("config", "", "HCL scan file to run instead of one flag-built scan")
	flags.String("variant", scanconfig.VariantScan,
		"scan variant: scan, multi, pulse_sync, passive, count")
	flags.StringSlice("detectors", []string{detName}, "detectors to record")
	flags.String("motor", motorName, "motor to step")
	flags.String("laser", laserName, "laser of the pulse_sync variant")
	flags.String("state-signal", detName+"_state",
		"detector-state signal of the passive variant")
	flags.String("pulse-id", laserName+"_pulse_id",
		"pulse-identifier device of the passive variant")
	flags.Float64("start", 0, "first motor position")
	flags.Float64("stop", 180, "last motor position")
	flags.Int("steps", 10, "number of positions")
	flags.Int("repeats", 1, "readings per position of the multi variant")
	flags.Int("num", 1, "readings of the count variant")
	flags.Duration("delay", 0, "pause between count readings")

	flags.String("db", "",
		"session database path; $TOMOSCAN_DB applies when unset")
	flags.Bool("live", true, "print the live run table")
	flags.Bool("trace", true, "record an instruction trace")
	flags.Duration("sample-period", time.Second,
		"signal sampling period; 0 records whole-session averages")
	flags.Bool("monitor", false, "serve the monitoring dashboard")
	flags.Int("monitor-port", 0, "monitoring port; 0 picks a random one")
	flags.Bool("open-browser", false, "open the dashboard on startup")
	flags.Duration("exposure", 10*time.Millisecond, "camera exposure")
}

func runScan(cmd *cobra.Command, _ []string) {
	var file *scanconfig.File
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		file, err = scanconfig.Load(path)
		if err != nil {
			log.Fatalf("Error loading scan file: %v", err)
		}
	}

	session := sessionFromFlags(cmd)
	defs := []scanconfig.ScanDef{defFromFlags(cmd)}
	if file != nil {
		session = file.Session
		if cmd.Flags().Changed("db") {
			session.Database, _ = cmd.Flags().GetString("db")
		}
		defs = file.Scans
	}

	exp := buildExperiment(session)
	exposure, _ := cmd.Flags().GetDuration("exposure")
	bl := newSimBeamline(exposure)
	bl.register(exp)

	atexit.Register(func() {
		bl.Close()
		if err := exp.Terminate(); err != nil {
			log.Printf("Error closing session database: %v", err)
		}
	})

	for _, def := range defs {
		p, err := buildPlan(exp, bl, def)
		if err != nil {
			atexit.Fatalf("Error preparing scan %q: %v", def.Name, err)
		}

		fmt.Printf("Starting %s %q\n", def.Variant, def.Name)

		if err := exp.Run(p); err != nil {
			atexit.Fatalf("Scan %q failed: %v", def.Name, err)
		}
	}

	fmt.Printf("\nSession database: %s.sqlite3\n", exp.DatabasePath())
	fmt.Printf("Replay with: tomoscan replay --db %s --last\n",
		exp.DatabasePath())

	atexit.Exit(0)
}

func sessionFromFlags(cmd *cobra.Command) scanconfig.Session {
	flags := cmd.Flags()
	session := scanconfig.DefaultSession()

	session.Database, _ = flags.GetString("db")
	if session.Database == "" {
		session.Database = os.Getenv("TOMOSCAN_DB")
	}

	session.LiveTable, _ = flags.GetBool("live")
	session.Tracing, _ = flags.GetBool("trace")
	session.SamplePeriod, _ = flags.GetDuration("sample-period")
	session.Monitor, _ = flags.GetBool("monitor")
	session.MonitorPort, _ = flags.GetInt("monitor-port")
	session.OpenBrowser, _ = flags.GetBool("open-browser")

	return session
}

func defFromFlags(cmd *cobra.Command) scanconfig.ScanDef {
	flags := cmd.Flags()

	var def scanconfig.ScanDef
	def.Variant, _ = flags.GetString("variant")
	def.Name = def.Variant
	def.Detectors, _ = flags.GetStringSlice("detectors")
	def.Motor, _ = flags.GetString("motor")
	def.Laser, _ = flags.GetString("laser")
	def.StateSignal, _ = flags.GetString("state-signal")
	def.PulseID, _ = flags.GetString("pulse-id")
	def.Start, _ = flags.GetFloat64("start")
	def.Stop, _ = flags.GetFloat64("stop")
	def.Steps, _ = flags.GetInt("steps")
	def.Repeats, _ = flags.GetInt("repeats")
	def.Num, _ = flags.GetInt("num")
	def.Delay, _ = flags.GetDuration("delay")

	return def
}

func buildExperiment(session scanconfig.Session) *experiment.Experiment {
	b := experiment.MakeBuilder()

	if session.Database != "" {
		b = b.WithDatabasePath(session.Database)
	}
	if !session.LiveTable {
		b = b.WithoutLiveTable()
	}
	if !session.Tracing {
		b = b.WithoutTracing()
	}

	b = b.WithSamplePeriod(session.SamplePeriod)

	if session.Monitor {
		b = b.WithMonitoring(session.MonitorPort)
		if session.OpenBrowser {
			b = b.WithBrowserOpening()
		}
	}

	return b.Build()
}

// buildPlan turns one scan definition into a runnable plan, resolving
// device names against the experiment registry and switching on parts of
// the beamline the variant needs.
func buildPlan(
	exp *experiment.Experiment,
	bl *simBeamline,
	def scanconfig.ScanDef,
) (scan.Plan, error) {
	switch def.Variant {
	case scanconfig.VariantScan:
		dets, err := resolveReadables(exp, def.Detectors)
		if err != nil {
			return scan.Plan{}, err
		}
		motor, err := resolveMovable(exp, def.Motor)
		if err != nil {
			return scan.Plan{}, err
		}

		return scan.Scan(dets, motor, def.Start, def.Stop, def.Steps), nil

	case scanconfig.VariantMulti:
		dets, err := resolveReadables(exp, def.Detectors)
		if err != nil {
			return scan.Plan{}, err
		}
		motor, err := resolveMovable(exp, def.Motor)
		if err != nil {
			return scan.Plan{}, err
		}

		return scan.MultiScan(
			dets, motor, def.Start, def.Stop, def.Steps, def.Repeats), nil

	case scanconfig.VariantPulseSync:
		dets, err := resolveReadables(exp, def.Detectors)
		if err != nil {
			return scan.Plan{}, err
		}
		motor, err := resolveMovable(exp, def.Motor)
		if err != nil {
			return scan.Plan{}, err
		}
		laser, err := resolveLaser(exp, def.Laser)
		if err != nil {
			return scan.Plan{}, err
		}

		bl.startLaser()

		// Record the laser with the detectors, so every event carries
		// the pulse identifier it was taken at.
		dets = append(dets, laser)

		return scan.PulseSyncScan(
			dets, motor, laser, def.Start, def.Stop, def.Steps), nil

	case scanconfig.VariantPassive:
		dets, err := resolveStageables(exp, def.Detectors)
		if err != nil {
			return scan.Plan{}, err
		}
		motor, err := resolveMovable(exp, def.Motor)
		if err != nil {
			return scan.Plan{}, err
		}
		state, err := resolveSignal(exp, def.StateSignal)
		if err != nil {
			return scan.Plan{}, err
		}
		pulseID, err := resolveReadable(exp, def.PulseID)
		if err != nil {
			return scan.Plan{}, err
		}

		bl.startLaser()
		bl.connectTrigger()

		return scan.PassiveScan(
			dets, motor, state, pulseID, def.Start, def.Stop, def.Steps), nil

	case scanconfig.VariantCount:
		dets, err := resolveReadables(exp, def.Detectors)
		if err != nil {
			return scan.Plan{}, err
		}

		return scan.Count(dets, def.Num, def.Delay), nil
	}

	return scan.Plan{}, fmt.Errorf("unknown scan variant %q", def.Variant)
}

func resolveReadables(
	exp *experiment.Experiment,
	names []string,
) ([]device.Readable, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no detectors given")
	}

	devs := make([]device.Readable, 0, len(names))
	for _, name := range names {
		r, err := resolveReadable(exp, name)
		if err != nil {
			return nil, err
		}

		devs = append(devs, r)
	}

	return devs, nil
}

func resolveReadable(
	exp *experiment.Experiment,
	name string,
) (device.Readable, error) {
	d := exp.GetDeviceByName(name)
	if d == nil {
		return nil, fmt.Errorf("no device named %q", name)
	}

	switch v := d.(type) {
	case device.Readable:
		return v, nil
	case device.Signal:
		return device.NewSignalReader(v), nil
	}

	return nil, fmt.Errorf("device %q cannot be read", name)
}

func resolveMovable(
	exp *experiment.Experiment,
	name string,
) (device.Movable, error) {
	d := exp.GetDeviceByName(name)
	if d == nil {
		return nil, fmt.Errorf("no device named %q", name)
	}

	m, ok := d.(device.Movable)
	if !ok {
		return nil, fmt.Errorf("device %q is not a motor", name)
	}

	return m, nil
}

func resolveSignal(
	exp *experiment.Experiment,
	name string,
) (device.Signal, error) {
	d := exp.GetDeviceByName(name)
	if d == nil {
		return nil, fmt.Errorf("no signal named %q", name)
	}

	sig, ok := d.(device.Signal)
	if !ok {
		return nil, fmt.Errorf("device %q is not a signal", name)
	}

	return sig, nil
}

func resolveLaser(
	exp *experiment.Experiment,
	name string,
) (*device.PulseLaser, error) {
	d := exp.GetDeviceByName(name)
	if d == nil {
		return nil, fmt.Errorf("no device named %q", name)
	}

	l, ok := d.(*device.PulseLaser)
	if !ok {
		return nil, fmt.Errorf("device %q is not a pulse laser", name)
	}

	return l, nil
}

func resolveStageables(
	exp *experiment.Experiment,
	names []string,
) ([]device.Stageable, error) {
	devs := make([]device.Stageable, 0, len(names))
	for _, name := range names {
		d := exp.GetDeviceByName(name)
		if d == nil {
			return nil, fmt.Errorf("no device named %q", name)
		}

		s, ok := d.(device.Stageable)
		if !ok {
			return nil, fmt.Errorf("device %q cannot be staged", name)
		}

		devs = append(devs, s)
	}

	return devs, nil
}
