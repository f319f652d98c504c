package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List the simulated beamline devices and signals.",
	Long: `List the devices and signals scans can refer to by name, with ` +
		`the current value of each signal.`,
	Run: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(_ *cobra.Command, _ []string) {
	bl := newSimBeamline(10 * time.Millisecond)
	defer bl.Close()

	fmt.Println("Devices:")
	fmt.Printf("  %-18s %-15s %s\n",
		motorName, "motor", "rotation axis, setpoint/readback pair")
	fmt.Printf("  %-18s %-15s %s\n",
		detName, "area detector", "frame camera with a file-writer plugin")
	fmt.Printf("  %-18s %-15s %s\n",
		laserName, "pulse laser", "pulse train with identifier and power")

	fmt.Println()
	fmt.Println("Signals:")

	signals := []struct {
		name   string
		value  float64
		detail string
	}{
		{motorName + "_readback", bl.axis.Readback().Read(),
			"axis position"},
		{detName + "_state", bl.camera.State().Read(),
			"0 idle, 2 acquiring"},
		{laserName + "_power", bl.pulser.Power().Read(),
			"1 while a pulse is on"},
		{laserName + "_pulse_id", bl.pulser.PulseID().Read(),
			"increments before each pulse"},
	}

	for _, sig := range signals {
		fmt.Printf("  %-18s %10g  %s\n", sig.name, sig.value, sig.detail)
	}
}
