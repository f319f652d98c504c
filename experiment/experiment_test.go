package experiment

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scanlab/tomoscan/catalog"
	"github.com/scanlab/tomoscan/device"
	"github.com/scanlab/tomoscan/scan"
	"github.com/scanlab/tomoscan/tracing"
)

var _ = Describe("Experiment", func() {
	var (
		dbPath string
		exp    *Experiment
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "session")
		exp = MakeBuilder().
			WithDatabasePath(dbPath).
			WithoutLiveTable().
			Build()
	})

	AfterEach(func() {
		Expect(exp.Terminate()).To(Succeed())
	})

	It("should register devices", func() {
		sig := device.NewSoftSignal("beam_intensity", 1)

		exp.RegisterDevice(sig)

		Expect(exp.GetDeviceByName("beam_intensity")).To(Equal(sig))
		Expect(exp.Devices()).To(HaveLen(1))
	})

	It("should reject duplicate device names", func() {
		exp.RegisterDevice(device.NewSoftSignal("beam_intensity", 1))

		Expect(func() {
			exp.RegisterDevice(device.NewSoftSignal("beam_intensity", 2))
		}).To(Panic())
	})

	It("should return nil for unknown devices", func() {
		Expect(exp.GetDeviceByName("nope")).To(BeNil())
	})

	It("should sample registered signals", func() {
		sig := device.NewSoftSignal("ring_current", 100)

		exp.RegisterSignal(sig)

		Expect(sig.NumSubscribers()).To(Equal(1))
		Expect(exp.GetDeviceByName("ring_current")).ToNot(BeNil())
	})

	It("should record a run into the session database", func() {
		sig := device.NewSoftSignal("beam_intensity", 0.9)
		reader := device.NewSignalReader(sig)

		plan := scan.Count([]device.Readable{reader}, 3, 0)
		Expect(exp.Run(plan)).To(Succeed())

		Expect(exp.Terminate()).To(Succeed())

		cat, err := catalog.OpenReader(dbPath)
		Expect(err).ToNot(HaveOccurred())
		defer cat.Close()

		runs, err := cat.Runs(context.Background())
		Expect(err).ToNot(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].Plan).To(Equal("count"))
		Expect(runs[0].NumEvents).To(Equal(3))
		Expect(runs[0].ExitStatus).To(Equal(scan.ExitSuccess))

		readings, err := cat.Readings(context.Background(), runs[0].UID)
		Expect(err).ToNot(HaveOccurred())
		Expect(readings).To(HaveLen(3))
		Expect(readings[0].Field).To(Equal("beam_intensity"))
		Expect(readings[0].Value).To(Equal(0.9))
	})

	It("should trace the run it executes", func() {
		sig := device.NewSoftSignal("beam_intensity", 1)
		reader := device.NewSignalReader(sig)

		plan := scan.Count([]device.Readable{reader}, 1, 0)
		Expect(exp.Run(plan)).To(Succeed())

		Expect(exp.Terminate()).To(Succeed())

		traces, err := tracing.OpenTraceReader(dbPath)
		Expect(err).ToNot(HaveOccurred())
		defer traces.Close()

		runs, err := traces.TasksOfKind(context.Background(), "run")
		Expect(err).ToNot(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].What).To(Equal("count"))
	})
})

var _ = Describe("Builder", func() {
	It("should reject browser opening without monitoring", func() {
		Expect(func() {
			MakeBuilder().WithBrowserOpening().Build()
		}).To(Panic())
	})
})
