package analysis

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"

	"github.com/scanlab/tomoscan/device"
)

var _ = Describe("SignalAnalyzer", func() {
	var (
		mockCtrl *gomock.Controller
		clock    *MockClock
		logger   *MockSampleLogger
		sig      *device.SoftSignal
		analyzer *SignalAnalyzer
		base     time.Time
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		clock = NewMockClock(mockCtrl)
		logger = NewMockSampleLogger(mockCtrl)
		sig = device.NewSoftSignal("beam_intensity", 0)
		base = time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("with a period", func() {
		BeforeEach(func() {
			clock.EXPECT().Now().Return(base)

			analyzer = MakeSignalAnalyzerBuilder().
				WithSampleLogger(logger).
				WithClock(clock).
				WithSignal(sig).
				WithPeriod(time.Second).
				Build()
		})

		It("should record the average level per period", func() {
			analyzer.OnUpdate(device.SignalUpdate{
				Value:     1,
				Timestamp: base.Add(100 * time.Millisecond),
			})

			logger.EXPECT().AddSample(SampleEntry{
				Start: base,
				End:   base.Add(time.Second),
				Where: "beam_intensity",
				What:  "Level",
				Value: 0.9,
			})

			analyzer.OnUpdate(device.SignalUpdate{
				Value:     2,
				Timestamp: base.Add(1100 * time.Millisecond),
			})
		})

		It("should report multiple periods together", func() {
			analyzer.OnUpdate(device.SignalUpdate{
				Value:     1,
				Timestamp: base.Add(100 * time.Millisecond),
			})

			logger.EXPECT().AddSample(SampleEntry{
				Start: base,
				End:   base.Add(time.Second),
				Where: "beam_intensity",
				What:  "Level",
				Value: 0.9,
			})

			logger.EXPECT().AddSample(SampleEntry{
				Start: base.Add(time.Second),
				End:   base.Add(2 * time.Second),
				Where: "beam_intensity",
				What:  "Level",
				Value: 1,
			})

			analyzer.OnUpdate(device.SignalUpdate{
				Value:     2,
				Timestamp: base.Add(2100 * time.Millisecond),
			})
		})

		It("should write the tail window on summarize", func() {
			analyzer.OnUpdate(device.SignalUpdate{
				Value:     1,
				Timestamp: base.Add(100 * time.Millisecond),
			})

			logger.EXPECT().AddSample(SampleEntry{
				Start: base,
				End:   base.Add(time.Second),
				Where: "beam_intensity",
				What:  "Level",
				Value: 0.9,
			})

			logger.EXPECT().AddSample(SampleEntry{
				Start: base.Add(time.Second),
				End:   base.Add(1500 * time.Millisecond),
				Where: "beam_intensity",
				What:  "Level",
				Value: 1,
			})

			clock.EXPECT().Now().Return(base.Add(1500 * time.Millisecond))

			analyzer.Summarize()
		})

		It("should summarize only once until new updates arrive", func() {
			clock.EXPECT().Now().Return(base.Add(500 * time.Millisecond))

			logger.EXPECT().AddSample(SampleEntry{
				Start: base,
				End:   base.Add(500 * time.Millisecond),
				Where: "beam_intensity",
				What:  "Level",
				Value: 0,
			})

			analyzer.Summarize()
			analyzer.Summarize()
		})
	})

	Context("without a period", func() {
		BeforeEach(func() {
			clock.EXPECT().Now().Return(base)

			analyzer = MakeSignalAnalyzerBuilder().
				WithSampleLogger(logger).
				WithClock(clock).
				WithSignal(sig).
				WithUnit("V").
				Build()
		})

		It("should treat the whole session as one window", func() {
			analyzer.OnUpdate(device.SignalUpdate{
				Value:     2,
				Timestamp: base.Add(500 * time.Millisecond),
			})

			clock.EXPECT().Now().Return(base.Add(time.Second))

			logger.EXPECT().AddSample(SampleEntry{
				Start: base,
				End:   base.Add(time.Second),
				Where: "beam_intensity",
				What:  "Level",
				Value: 1,
				Unit:  "V",
			})

			analyzer.Summarize()
		})

		It("should clamp out-of-order update timestamps", func() {
			analyzer.OnUpdate(device.SignalUpdate{
				Value:     1,
				Timestamp: base.Add(500 * time.Millisecond),
			})
			analyzer.OnUpdate(device.SignalUpdate{
				Value:     3,
				Timestamp: base.Add(250 * time.Millisecond),
			})

			clock.EXPECT().Now().Return(base.Add(time.Second))

			logger.EXPECT().AddSample(SampleEntry{
				Start: base,
				End:   base.Add(time.Second),
				Where: "beam_intensity",
				What:  "Level",
				Value: 1.5,
				Unit:  "V",
			})

			analyzer.Summarize()
		})
	})

	It("should refuse to build without a logger", func() {
		Expect(func() {
			MakeSignalAnalyzerBuilder().
				WithClock(clock).
				WithSignal(sig).
				Build()
		}).To(Panic())
	})

	It("should refuse to build without a signal", func() {
		Expect(func() {
			MakeSignalAnalyzerBuilder().
				WithSampleLogger(logger).
				WithClock(clock).
				Build()
		}).To(Panic())
	})
})
