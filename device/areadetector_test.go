package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// recordingSignal notes the order of writes for staging-order assertions.
type recordingSignal struct {
	*SoftSignal
	log *[]string
}

func (s *recordingSignal) Put(v float64) error {
	*s.log = append(*s.log, fmt.Sprintf("%s=%v", s.Name(), v))
	return s.SoftSignal.Put(v)
}

// failingSignal refuses writes while broken is set.
type failingSignal struct {
	*SoftSignal
	broken bool
}

func (s *failingSignal) Put(v float64) error {
	if s.broken {
		return errors.New("write refused")
	}
	return s.SoftSignal.Put(v)
}

var _ = Describe("AreaDetector", func() {
	var (
		putLog   []string
		acquire  *SoftSignal
		capture  *SoftSignal
		counter  *SoftSignal
		sigs     AreaDetectorSignals
		detector *AreaDetector
	)

	record := func(sig *SoftSignal) WritableSignal {
		return &recordingSignal{SoftSignal: sig, log: &putLog}
	}

	BeforeEach(func() {
		putLog = nil
		acquire = NewSoftSignal("det1_acquire", 0)
		capture = NewSoftSignal("det1_capture", 0)
		counter = NewSoftSignal("det1_array_counter", 0)

		sigs = AreaDetectorSignals{
			Acquire:           acquire,
			AcquireTime:       record(NewSoftSignal("det1_acquire_time", 1)),
			ImageMode:         record(NewSoftSignal("det1_image_mode", 0)),
			NumImages:         record(NewSoftSignal("det1_num_images", 10)),
			WaitForPlugins:    record(NewSoftSignal("det1_wait_for_plugins", 0)),
			State:             NewSoftSignal("det1_state", 0),
			ArrayCounter:      counter,
			Capture:           record(capture),
			NumCapture:        record(NewSoftSignal("det1_num_capture", 0)),
			BlockingCallbacks: record(NewSoftSignal("det1_blocking_callbacks", 1)),
			CreateDirectory:   record(NewSoftSignal("det1_create_directory", 0)),
		}

		detector = NewAreaDetector(AreaDetectorConfig{
			Name:    "det1",
			Signals: sigs,
			Cam: CamConfig{
				ImageMode:      ImageModeMultiple,
				AcquireTime:    0.05,
				NumImages:      1,
				WaitForPlugins: true,
			},
			HDF5: HDF5Config{
				WritePathTemplate:    "/data/%Y/%m/%d/",
				ReadPathTemplate:     "/mnt/data/%Y/%m/%d/",
				CreateDirectoryDepth: -5,
			},
		})
	})

	It("should apply the staging settings with the capture arm last", func() {
		Expect(detector.Stage()).To(Succeed())

		Expect(putLog).To(Equal([]string{
			"det1_image_mode=1",
			"det1_acquire_time=0.05",
			"det1_num_images=1",
			"det1_wait_for_plugins=1",
			"det1_create_directory=-5",
			"det1_blocking_callbacks=0",
			"det1_num_capture=0",
			"det1_capture=1",
		}))
		Expect(detector.Staged()).To(BeTrue())
	})

	It("should restore the prior settings in reverse on unstage", func() {
		Expect(detector.Stage()).To(Succeed())
		putLog = putLog[:0]

		Expect(detector.Unstage()).To(Succeed())

		Expect(putLog).To(Equal([]string{
			"det1_capture=0",
			"det1_num_capture=0",
			"det1_blocking_callbacks=1",
			"det1_create_directory=0",
			"det1_wait_for_plugins=0",
			"det1_num_images=10",
			"det1_acquire_time=1",
			"det1_image_mode=0",
		}))
		Expect(detector.Staged()).To(BeFalse())
	})

	It("should refuse to stage twice", func() {
		Expect(detector.Stage()).To(Succeed())
		Expect(detector.Stage()).To(
			MatchError("detector det1 is already staged"))
	})

	It("should resolve the file-writer paths while staging", func() {
		Expect(detector.Stage()).To(Succeed())

		year := fmt.Sprintf("%d", time.Now().Year())
		Expect(detector.WritePath()).To(HavePrefix("/data/" + year + "/"))
		Expect(detector.ReadPath()).To(HavePrefix("/mnt/data/" + year + "/"))
	})

	It("should roll back applied settings when a staging write fails", func() {
		bad := &failingSignal{
			SoftSignal: NewSoftSignal("det1_blocking_callbacks", 1),
			broken:     true,
		}
		sigs.BlockingCallbacks = bad
		detector = NewAreaDetector(AreaDetectorConfig{
			Name:    "det1",
			Signals: sigs,
			Cam:     CamConfig{ImageMode: ImageModeMultiple},
			HDF5:    HDF5Config{CreateDirectoryDepth: -5},
		})

		err := detector.Stage()

		Expect(err).To(MatchError(ContainSubstring("staging det1")))
		Expect(detector.Staged()).To(BeFalse())
		Expect(capture.Read()).To(Equal(0.0))
		Expect(sigs.ImageMode.Read()).To(Equal(0.0))
		Expect(sigs.CreateDirectory.Read()).To(Equal(0.0))
	})

	It("should refuse to trigger while unstaged", func() {
		st := detector.Trigger()

		Expect(st.Done()).To(BeClosed())
		Expect(st.Err()).To(
			MatchError("detector det1 is not staged"))
	})

	It("should resolve a trigger when the exposure ends", func() {
		Expect(detector.Stage()).To(Succeed())

		st := detector.Trigger()
		Expect(acquire.Read()).To(Equal(1.0))
		Expect(st.Resolved()).To(BeFalse())

		Expect(acquire.Put(0)).To(Succeed())

		Eventually(st.Done()).Should(BeClosed())
		Expect(st.Err()).To(BeNil())
		Eventually(acquire.NumSubscribers).Should(Equal(0))
	})

	It("should push a single warmup frame", func() {
		// Act as the camera: finish the exposure as soon as it starts.
		acquire.Subscribe(func(u SignalUpdate) {
			if u.Value == 1 {
				Expect(acquire.Put(0)).To(Succeed())
			}
		})

		err := detector.Warmup(context.Background())

		Expect(err).ToNot(HaveOccurred())
		Expect(sigs.ImageMode.Read()).To(Equal(float64(ImageModeSingle)))
		Expect(sigs.NumImages.Read()).To(Equal(1.0))
	})

	It("should report the frame counter", func() {
		Expect(counter.Put(42)).To(Succeed())

		readings, err := detector.Read()

		Expect(err).ToNot(HaveOccurred())
		Expect(readings).To(HaveLen(1))
		Expect(readings[0].Name).To(Equal("det1_array_counter"))
		Expect(readings[0].Value).To(Equal(42.0))
	})
})

var _ = Describe("resolvePathTemplate", func() {
	It("should expand the date fields", func() {
		at := time.Date(2026, 8, 25, 14, 30, 5, 0, time.UTC)

		Expect(resolvePathTemplate("/data/%Y/%m/%d/", at)).
			To(Equal("/data/2026/08/25/"))
		Expect(resolvePathTemplate("scan_%Y%m%d_%H%M%S", at)).
			To(Equal("scan_20260825_143005"))
	})

	It("should pass plain paths through", func() {
		at := time.Now()

		Expect(resolvePathTemplate("/data/fixed", at)).
			To(Equal("/data/fixed"))
		Expect(resolvePathTemplate("", at)).To(Equal(""))
	})
})
