package scan

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scanlab/tomoscan/device"
)

var _ = Describe("WaitForValue", func() {
	It("should return without polling when already at the target", func() {
		sig := device.NewSoftSignal("shutter", 2)

		start := time.Now()
		err := WaitForValue(context.Background(), sig, 2,
			50*time.Millisecond, time.Second)

		Expect(err).ToNot(HaveOccurred())
		Expect(time.Since(start)).To(
			BeNumerically("<", 40*time.Millisecond))
	})

	It("should observe a later arrival", func() {
		sig := device.NewSoftSignal("shutter", 0)
		go func() {
			time.Sleep(30 * time.Millisecond)
			sig.Put(1)
		}()

		err := WaitForValue(context.Background(), sig, 1,
			5*time.Millisecond, time.Second)

		Expect(err).ToNot(HaveOccurred())
	})

	It("should time out with a descriptive error", func() {
		sig := device.NewSoftSignal("shutter", 0)

		start := time.Now()
		err := WaitForValue(context.Background(), sig, 1,
			5*time.Millisecond, 50*time.Millisecond)

		// One poll interval past the deadline at most, plus scheduling
		// slack.
		elapsed := time.Since(start)
		Expect(elapsed).To(BeNumerically(">=", 50*time.Millisecond))
		Expect(elapsed).To(BeNumerically("<", 250*time.Millisecond))

		var timeoutErr *device.TimeoutError
		Expect(errors.As(err, &timeoutErr)).To(BeTrue())
		Expect(timeoutErr.Waiting).To(Equal("shutter"))
		Expect(timeoutErr.Target).To(Equal("value 1"))
	})

	It("should time out even when the value arrives past the deadline", func() {
		sig := device.NewSoftSignal("shutter", 0)
		go func() {
			time.Sleep(25 * time.Millisecond)
			sig.Put(1)
		}()

		err := WaitForValue(context.Background(), sig, 1,
			30*time.Millisecond, 20*time.Millisecond)

		var timeoutErr *device.TimeoutError
		Expect(errors.As(err, &timeoutErr)).To(BeTrue())
	})

	It("should stop when the context is cancelled", func() {
		sig := device.NewSoftSignal("shutter", 0)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()

		err := WaitForValue(ctx, sig, 1, 5*time.Millisecond, time.Minute)

		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
	})
})
