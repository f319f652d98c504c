package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanlab/tomoscan/catalog"
	"github.com/scanlab/tomoscan/tracing"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Read runs back from a session database.",
	Long: `Without a run selection, replay lists every run of the session ` +
		`database. With --run or --last it prints one run's summary and ` +
		`readings, and with --report also its instruction-trace timing.`,
	Run: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	flags := replayCmd.Flags()

	flags.String("db", "",
		"session database path; $TOMOSCAN_DB applies when unset")
	flags.String("run", "", "UID of the run to print")
	flags.Bool("last", false, "print the most recent run")
	flags.Bool("report", false, "include the instruction-trace timing")
}

func runReplay(cmd *cobra.Command, _ []string) {
	flags := cmd.Flags()

	path, _ := flags.GetString("db")
	if path == "" {
		path = os.Getenv("TOMOSCAN_DB")
	}
	if path == "" {
		log.Fatalf("Error: no session database given, use --db or " +
			"$TOMOSCAN_DB.")
	}

	reader, err := catalog.OpenReader(path)
	if err != nil {
		log.Fatalf("Error opening session database: %v", err)
	}
	defer reader.Close()

	ctx := context.Background()

	uid, _ := flags.GetString("run")
	last, _ := flags.GetBool("last")

	if uid == "" && !last {
		listRuns(ctx, reader)
		return
	}

	run, err := selectRun(ctx, reader, uid, last)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	printRun(ctx, reader, run)

	if report, _ := flags.GetBool("report"); report {
		printReport(ctx, path, run.UID)
	}
}

func selectRun(
	ctx context.Context,
	reader *catalog.Reader,
	uid string,
	last bool,
) (catalog.RunSummary, error) {
	if last {
		return reader.LastRun(ctx)
	}

	return reader.Run(ctx, uid)
}

func listRuns(ctx context.Context, reader *catalog.Reader) {
	runs, err := reader.Runs(ctx)
	if err != nil {
		log.Fatalf("Error listing runs: %v", err)
	}

	if len(runs) == 0 {
		fmt.Println("The session database holds no runs.")
		return
	}

	fmt.Printf("%-22s %-18s %-20s %7s  %s\n",
		"UID", "PLAN", "STARTED", "EVENTS", "STATUS")

	for _, run := range runs {
		status := run.ExitStatus
		if !run.Completed() {
			status = "never completed"
		}

		fmt.Printf("%-22s %-18s %-20s %7d  %s\n",
			run.UID, run.Plan,
			run.StartTime.Format("2006-01-02 15:04:05"),
			run.NumEvents, status)
	}
}

func printRun(
	ctx context.Context,
	reader *catalog.Reader,
	run catalog.RunSummary,
) {
	fmt.Printf("Run %s\n", run.UID)
	fmt.Printf("  plan:    %s\n", run.Plan)
	fmt.Printf("  started: %s\n",
		run.StartTime.Format("2006-01-02 15:04:05.000"))

	if run.Completed() {
		fmt.Printf("  ended:   %s  duration=%s\n",
			run.StopTime.Format("2006-01-02 15:04:05.000"),
			run.StopTime.Sub(run.StartTime).Round(time.Millisecond))
		fmt.Printf("  status:  %s", run.ExitStatus)
		if run.Reason != "" {
			fmt.Printf("  reason=%q", run.Reason)
		}
		fmt.Println()
	} else {
		fmt.Println("  status:  never completed")
	}

	fmt.Printf("  events:  %d\n", run.NumEvents)

	if len(run.Metadata) > 0 {
		keys := make([]string, 0, len(run.Metadata))
		for k := range run.Metadata {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		fmt.Print("  metadata:")
		for _, k := range keys {
			fmt.Printf(" %s=%v", k, run.Metadata[k])
		}
		fmt.Println()
	}

	readings, err := reader.Readings(ctx, run.UID)
	if err != nil {
		log.Fatalf("Error reading run %s: %v", run.UID, err)
	}

	printReadings(readings)
}

// printReadings pivots the per-field records back into one row per event,
// fields in first-seen order.
func printReadings(readings []catalog.ReadingRecord) {
	if len(readings) == 0 {
		return
	}

	var fields []string
	seen := make(map[string]bool)
	rows := make(map[int]map[string]float64)
	var seqs []int

	for _, r := range readings {
		if !seen[r.Field] {
			seen[r.Field] = true
			fields = append(fields, r.Field)
		}

		if rows[r.Seq] == nil {
			rows[r.Seq] = make(map[string]float64)
			seqs = append(seqs, r.Seq)
		}

		rows[r.Seq][r.Field] = r.Value
	}

	sort.Ints(seqs)

	const w = 14

	fmt.Println()
	fmt.Printf("%*s", w, "seq")
	for _, f := range fields {
		fmt.Printf(" %*s", w, clipField(f, w))
	}
	fmt.Println()

	fmt.Println(strings.Repeat("-", (w+1)*(len(fields)+1)))

	for _, seq := range seqs {
		fmt.Printf("%*d", w, seq)

		for _, f := range fields {
			if v, ok := rows[seq][f]; ok {
				fmt.Printf(" %*.4f", w, v)
			} else {
				fmt.Printf(" %*s", w, "")
			}
		}

		fmt.Println()
	}
}

func printReport(ctx context.Context, path, runUID string) {
	tr, err := tracing.OpenTraceReader(path)
	if err != nil {
		log.Fatalf("Error opening trace: %v", err)
	}
	defer tr.Close()

	report, err := tr.Report(ctx, runUID)
	if err != nil {
		log.Fatalf("Error building trace report: %v", err)
	}

	fmt.Println()
	fmt.Printf("Trace report for run %s\n", runUID)
	fmt.Printf("  total: %s  busy: %s  dead: %s\n",
		report.Run.Duration().Round(time.Millisecond),
		report.Busy.Round(time.Millisecond),
		report.Dead.Round(time.Millisecond))

	whats := make([]string, 0, len(report.TotalByWhat))
	for what := range report.TotalByWhat {
		whats = append(whats, what)
	}

	// Longest first, so the expensive instructions lead.
	sort.Slice(whats, func(i, j int) bool {
		if report.TotalByWhat[whats[i]] != report.TotalByWhat[whats[j]] {
			return report.TotalByWhat[whats[i]] > report.TotalByWhat[whats[j]]
		}

		return whats[i] < whats[j]
	})

	for _, what := range whats {
		fmt.Printf("  %-18s %s\n",
			what, report.TotalByWhat[what].Round(time.Millisecond))
	}
}

func clipField(s string, w int) string {
	if len(s) > w {
		return s[:w]
	}

	return s
}
