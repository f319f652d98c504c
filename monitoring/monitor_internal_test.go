package monitoring

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/gorilla/mux"
	"go.uber.org/mock/gomock"

	"github.com/scanlab/tomoscan/device"
	"github.com/scanlab/tomoscan/scan"
)

var _ = Describe("Monitor", func() {
	var (
		mockCtrl *gomock.Controller
		engine   *MockControllable
		monitor  *Monitor
		router   *mux.Router
	)

	get := func(target string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, target, nil)
		router.ServeHTTP(w, r)
		return w
	}

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		engine = NewMockControllable(mockCtrl)

		monitor = NewMonitor()
		monitor.RegisterEngine(engine)
		router = monitor.createRouter()
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should pause the engine", func() {
		engine.EXPECT().RequestPause().Return(nil)

		w := get("/api/pause")

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("should report control conflicts", func() {
		engine.EXPECT().RequestPause().
			Return(errors.New("engine is not running"))

		w := get("/api/pause")

		Expect(w.Code).To(Equal(http.StatusConflict))
		Expect(w.Body.String()).To(ContainSubstring("engine is not running"))
	})

	It("should pause the engine immediately", func() {
		engine.EXPECT().RequestPauseNow().Return(nil)

		w := get("/api/pause_now")

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("should resume the engine", func() {
		engine.EXPECT().Resume().Return(nil)

		w := get("/api/resume")

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("should abort with the given reason", func() {
		engine.EXPECT().Abort("beam dump").Return(nil)

		w := get("/api/abort?reason=" + url.QueryEscape("beam dump"))

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("should abort with a default reason", func() {
		engine.EXPECT().Abort("aborted from monitor").Return(nil)

		w := get("/api/abort")

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("should report the engine status", func() {
		engine.EXPECT().Status().Return(scan.EngineStatus{
			State:    scan.StateRunning,
			Plan:     "multi_scan",
			RunUID:   "run-1",
			Messages: 42,
			Events:   7,
		})

		w := get("/api/status")

		Expect(w.Code).To(Equal(http.StatusOK))

		rsp := statusRsp{}
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.State).To(Equal("running"))
		Expect(rsp.Plan).To(Equal("multi_scan"))
		Expect(rsp.RunUID).To(Equal("run-1"))
		Expect(rsp.Messages).To(Equal(42))
		Expect(rsp.Events).To(Equal(7))
	})

	It("should list registered devices", func() {
		monitor.RegisterDevice(device.NewSoftSignal("rotation", 0))
		monitor.RegisterDevice(device.NewSoftSignal("beam_intensity", 1))

		w := get("/api/devices")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal(`["rotation","beam_intensity"]`))
	})

	It("should serialize a device", func() {
		monitor.RegisterDevice(device.NewSoftSignal("rotation", 3.5))

		w := get("/api/device/rotation")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.Len()).ToNot(BeZero())
	})

	It("should return 404 for an unknown device", func() {
		w := get("/api/device/nope")

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("should serialize one field of a device", func() {
		monitor.RegisterDevice(device.NewSoftSignal("rotation", 3.5))

		req := fieldReq{DeviceName: "rotation", FieldName: "value"}
		bs, err := json.Marshal(req)
		Expect(err).ToNot(HaveOccurred())

		w := get("/api/field/" + url.PathEscape(string(bs)))

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.Len()).ToNot(BeZero())
	})

	It("should reject a malformed field request", func() {
		w := get("/api/field/" + url.PathEscape("not json"))

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("should list progress bars", func() {
		bar := monitor.CreateProgressBar("multi_scan 1a2b3c4d", 10)
		bar.IncrementFinished(3)
		bar.IncrementInProgress(1)

		w := get("/api/progress")

		Expect(w.Code).To(Equal(http.StatusOK))

		bars := []ProgressSnapshot{}
		Expect(json.Unmarshal(w.Body.Bytes(), &bars)).To(Succeed())
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].ID).ToNot(BeEmpty())
		Expect(bars[0].Name).To(Equal("multi_scan 1a2b3c4d"))
		Expect(bars[0].Total).To(Equal(uint64(10)))
		Expect(bars[0].Finished).To(Equal(uint64(3)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))
	})

	It("should remove completed progress bars", func() {
		bar := monitor.CreateProgressBar("count", 5)
		monitor.CompleteProgressBar(bar)

		w := get("/api/progress")

		Expect(w.Body.String()).To(Equal("[]"))
	})

	It("should report process resource usage", func() {
		w := get("/api/resource")

		Expect(w.Code).To(Equal(http.StatusOK))

		rsp := resourceRsp{}
		Expect(json.Unmarshal(w.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).ToNot(BeZero())
	})

	It("should serve the dashboard", func() {
		w := get("/")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})
})

var _ = Describe("ScanProgress", func() {
	var (
		monitor  *Monitor
		progress *ScanProgress
	)

	BeforeEach(func() {
		monitor = NewMonitor()
		progress = NewScanProgress(monitor)
	})

	It("should track a run from start to stop", func() {
		progress.OnRunStart(scan.RunStart{
			UID:  "run-12345678",
			Plan: "multi_scan",
			Metadata: map[string]interface{}{
				"steps":   5,
				"repeats": 2,
			},
		})

		Expect(monitor.progressBars).To(HaveLen(1))

		bar := monitor.progressBars[0]
		Expect(bar.Name).To(Equal("multi_scan run-1234"))
		Expect(bar.Total).To(Equal(uint64(10)))

		progress.OnEvent(scan.Event{RunUID: "run-12345678", Seq: 1})
		progress.OnEvent(scan.Event{RunUID: "run-12345678", Seq: 2})

		Expect(bar.Snapshot().Finished).To(Equal(uint64(2)))

		progress.OnRunStop(scan.RunStop{RunUID: "run-12345678"})

		Expect(monitor.progressBars).To(BeEmpty())
	})

	It("should ignore documents of unknown runs", func() {
		progress.OnEvent(scan.Event{RunUID: "ghost"})
		progress.OnRunStop(scan.RunStop{RunUID: "ghost"})

		Expect(monitor.progressBars).To(BeEmpty())
	})
})

var _ = Describe("expectedEvents", func() {
	It("should use the event count of counting plans", func() {
		md := map[string]interface{}{"num": 3}

		Expect(expectedEvents(md)).To(Equal(uint64(3)))
	})

	It("should multiply steps by repeats", func() {
		md := map[string]interface{}{"steps": 5, "repeats": 4}

		Expect(expectedEvents(md)).To(Equal(uint64(20)))
	})

	It("should fall back to steps alone", func() {
		md := map[string]interface{}{"steps": 7}

		Expect(expectedEvents(md)).To(Equal(uint64(7)))
	})

	It("should report unknown totals as zero", func() {
		Expect(expectedEvents(nil)).To(Equal(uint64(0)))
		Expect(expectedEvents(map[string]interface{}{"num": -1})).
			To(Equal(uint64(0)))
	})
})
