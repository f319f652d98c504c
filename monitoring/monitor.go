// Package monitoring provides a web server that exposes the state of a
// running scan session and allows pausing, resuming, and aborting runs
// from a browser.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/scanlab/tomoscan/device"
	"github.com/scanlab/tomoscan/monitoring/web"
	"github.com/scanlab/tomoscan/scan"
)

// Controllable is the part of the run engine that the monitor drives.
type Controllable interface {
	RequestPause() error
	RequestPauseNow() error
	Resume() error
	Abort(reason string) error
	Status() scan.EngineStatus
}

// Monitor can turn a scan session into a server and allows external tools
// to watch and control the session.
type Monitor struct {
	engine      Controllable
	devices     []device.Named
	portNumber  int
	openBrowser bool

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number that the monitor server listens on.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Monitoring port %d is a system port, using a random port instead.\n",
			portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowserOpening makes StartServer open the dashboard in the default
// browser once the server is listening.
func (m *Monitor) WithBrowserOpening() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterEngine registers the run engine that the monitor controls.
func (m *Monitor) RegisterEngine(e Controllable) {
	m.engine = e
}

// RegisterDevice registers a device so that its internal state can be
// inspected from the monitoring tool.
func (m *Monitor) RegisterDevice(d device.Named) {
	m.devices = append(m.devices, d)
}

// CreateProgressBar creates a progress bar shown in the monitoring tool.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := NewProgressBar(name, total)

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a progress bar from the monitoring tool.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars)-1)
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// StartServer starts the monitor as a web server with a custom port number
// if specified.
func (m *Monitor) StartServer() {
	r := m.createRouter()
	http.Handle("/", r)

	actualPort := ":0"
	if m.portNumber >= 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	fmt.Fprintf(os.Stderr, "Monitoring scan session at %s\n", url)

	if m.openBrowser {
		oErr := browser.OpenURL(url)
		if oErr != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %s\n", oErr)
		}
	}

	go func() {
		err = http.Serve(listener, nil)
		dieOnErr(err)
	}()
}

func (m *Monitor) createRouter() *mux.Router {
	fs := web.GetAssets()
	fServer := http.FileServer(fs)

	r := mux.NewRouter()
	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/pause_now", m.pauseEngineNow)
	r.HandleFunc("/api/resume", m.resumeEngine)
	r.HandleFunc("/api/abort", m.abortRun)
	r.HandleFunc("/api/status", m.engineStatus)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/devices", m.listDevices)
	r.HandleFunc("/api/device/{name}", m.listDeviceDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/").Handler(fServer)

	return r
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	m.respondControl(w, m.engine.RequestPause())
}

func (m *Monitor) pauseEngineNow(w http.ResponseWriter, _ *http.Request) {
	m.respondControl(w, m.engine.RequestPauseNow())
}

func (m *Monitor) resumeEngine(w http.ResponseWriter, _ *http.Request) {
	m.respondControl(w, m.engine.Resume())
}

func (m *Monitor) abortRun(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "aborted from monitor"
	}

	m.respondControl(w, m.engine.Abort(reason))
}

// respondControl reports engine control errors as conflicts. They mean the
// engine is not in a state that allows the request, not that the server
// failed.
func (m *Monitor) respondControl(w http.ResponseWriter, err error) {
	if err != nil {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprintf(w, "{\"error\":%q}", err.Error())

		return
	}

	_, wErr := w.Write(nil)
	dieOnErr(wErr)
}

type statusRsp struct {
	State    string `json:"state"`
	Plan     string `json:"plan,omitempty"`
	RunUID   string `json:"run_uid,omitempty"`
	Messages int    `json:"messages"`
	Events   int    `json:"events"`
}

func (m *Monitor) engineStatus(w http.ResponseWriter, _ *http.Request) {
	status := m.engine.Status()

	rsp := statusRsp{
		State:    string(status.State),
		Plan:     status.Plan,
		RunUID:   status.RunUID,
		Messages: status.Messages,
		Events:   status.Events,
	}

	bs, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bs)
	dieOnErr(err)
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	snapshots := make([]ProgressSnapshot, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		snapshots = append(snapshots, b.Snapshot())
	}
	m.progressBarsLock.Unlock()

	bs, err := json.Marshal(snapshots)
	dieOnErr(err)

	_, err = w.Write(bs)
	dieOnErr(err)
}

func (m *Monitor) listDevices(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprint(w, "[")
	for i, d := range m.devices {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprintf(w, "\"%s\"", d.Name())
	}
	fmt.Fprint(w, "]")
}

func (m *Monitor) listDeviceDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	dev := m.findDeviceOr404(w, name)
	if dev == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(dev)
	serializer.SetMaxDepth(1)

	err := serializer.Serialize(w)
	dieOnErr(err)
}

type fieldReq struct {
	DeviceName string `json:"device_name,omitempty"`
	FieldName  string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]

	req := fieldReq{}
	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	dev := m.findDeviceOr404(w, req.DeviceName)
	if dev == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(dev)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	dieOnErr(err)

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) findDeviceOr404(
	w http.ResponseWriter,
	name string,
) device.Named {
	for _, d := range m.devices {
		if d.Name() == name {
			return d
		}
	}

	w.WriteHeader(http.StatusNotFound)
	_, err := w.Write([]byte("Device not found"))
	dieOnErr(err)

	return nil
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memInfo, err := proc.MemoryInfo()
	dieOnErr(err)

	rsp := resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memInfo.RSS,
	}

	bs, err := json.Marshal(rsp)
	dieOnErr(err)

	_, err = w.Write(bs)
	dieOnErr(err)
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := &bytes.Buffer{}

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)
	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	bs, err := json.Marshal(prof)
	dieOnErr(err)

	_, err = w.Write(bs)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
