// Package liveview prints scans to the console as they happen. It is a
// best-effort view: output never fails or slows the structure of a run.
package liveview

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scanlab/tomoscan/scan"
)

const colWidth = 12

// A Table renders run documents as a streaming fixed-width table, one
// row per event, with banners at run boundaries. Register it with
// RunEngine.Subscribe.
type Table struct {
	w io.Writer

	mu      sync.Mutex
	columns []string
	bundle  string
	start   time.Time
}

// NewTable creates a Table writing to w. A nil writer means stdout.
func NewTable(w io.Writer) *Table {
	if w == nil {
		w = os.Stdout
	}

	return &Table{w: w}
}

func (t *Table) OnRunStart(doc scan.RunStart) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.columns = nil
	t.bundle = ""
	t.start = doc.Time

	fmt.Fprintf(t.w, "\nRun %s  plan=%s  started %s\n",
		shortUID(doc.UID), doc.Plan,
		doc.Time.Format("2006-01-02 15:04:05"))

	if len(doc.Metadata) > 0 {
		keys := make([]string, 0, len(doc.Metadata))
		for k := range doc.Metadata {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(t.w, "  %s=%v", k, doc.Metadata[k])
		}

		fmt.Fprintln(t.w)
	}
}

func (t *Table) OnEvent(doc scan.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// The column set is pinned by the first event of each stream.
	if t.columns == nil || doc.Name != t.bundle {
		t.bundle = doc.Name
		t.columns = make([]string, 0, len(doc.Readings))

		for _, r := range doc.Readings {
			t.columns = append(t.columns, r.Name)
		}

		t.printHeader()
	}

	values := make(map[string]float64, len(doc.Readings))
	for _, r := range doc.Readings {
		values[r.Name] = r.Value
	}

	fmt.Fprintf(t.w, "|%*d |%*s |",
		colWidth, doc.Seq,
		colWidth, doc.Time.Format("15:04:05.0"))

	for _, c := range t.columns {
		if v, ok := values[c]; ok {
			fmt.Fprintf(t.w, "%*.4f |", colWidth, v)
		} else {
			fmt.Fprintf(t.w, "%*s |", colWidth, "")
		}
	}

	fmt.Fprintln(t.w)
}

func (t *Table) OnRunStop(doc scan.RunStop) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.columns != nil {
		t.printRule()
	}

	fmt.Fprintf(t.w, "Run %s ended: exit_status=%s events=%d",
		shortUID(doc.RunUID), doc.ExitStatus, doc.NumEvents)

	if !t.start.IsZero() {
		fmt.Fprintf(t.w, " duration=%s",
			doc.Time.Sub(t.start).Round(time.Millisecond))
	}

	if doc.Reason != "" {
		fmt.Fprintf(t.w, " reason=%q", doc.Reason)
	}

	fmt.Fprintln(t.w)
}

func (t *Table) printHeader() {
	fmt.Fprintf(t.w, "Stream %q\n", t.bundle)
	t.printRule()

	fmt.Fprintf(t.w, "|%*s |%*s |", colWidth, "seq", colWidth, "time")

	for _, c := range t.columns {
		fmt.Fprintf(t.w, "%*s |", colWidth, clip(c, colWidth))
	}

	fmt.Fprintln(t.w)
	t.printRule()
}

func (t *Table) printRule() {
	for i := 0; i < len(t.columns)+2; i++ {
		fmt.Fprint(t.w, "+", strings.Repeat("-", colWidth+1))
	}

	fmt.Fprintln(t.w, "+")
}

func shortUID(uid string) string {
	return clip(uid, 8)
}

func clip(s string, w int) string {
	if len(s) > w {
		return s[:w]
	}

	return s
}

var _ scan.DocumentSubscriber = (*Table)(nil)
