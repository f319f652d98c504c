package device

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Status", func() {
	It("should resolve successfully on SetFinished", func() {
		st := NewStatus("dev", 0, 0)

		Expect(st.Resolved()).To(BeFalse())
		st.SetFinished()

		Eventually(st.Done()).Should(BeClosed())
		Expect(st.Resolved()).To(BeTrue())
		Expect(st.Err()).To(BeNil())
	})

	It("should resolve only once", func() {
		st := NewStatus("dev", 0, 0)

		st.SetFinished()
		st.SetError(errors.New("too late"))

		Eventually(st.Done()).Should(BeClosed())
		Expect(st.Err()).To(BeNil())
	})

	It("should hold Done until the settle time passes", func() {
		st := NewStatus("dev", 0, 50*time.Millisecond)

		start := time.Now()
		st.SetFinished()

		Eventually(st.Done(), time.Second).Should(BeClosed())
		Expect(time.Since(start)).To(
			BeNumerically(">=", 40*time.Millisecond))
		Expect(st.Err()).To(BeNil())
	})

	It("should skip the settle time on error", func() {
		st := NewStatus("dev", 0, time.Hour)

		st.SetError(errors.New("hardware fault"))

		Eventually(st.Done()).Should(BeClosed())
		Expect(st.Err()).To(MatchError("hardware fault"))
	})

	It("should time out with a descriptive error", func() {
		st := NewStatus("laser1", 20*time.Millisecond, 0)
		st.SetWaitingFor("next pulse")

		Eventually(st.Done(), time.Second).Should(BeClosed())

		var timeoutErr *TimeoutError
		Expect(errors.As(st.Err(), &timeoutErr)).To(BeTrue())
		Expect(timeoutErr.Waiting).To(Equal("laser1"))
		Expect(timeoutErr.Target).To(Equal("next pulse"))
	})

	It("should not time out once finished", func() {
		st := NewStatus("dev", 20*time.Millisecond, 0)

		st.SetFinished()
		time.Sleep(50 * time.Millisecond)

		Expect(st.Err()).To(BeNil())
	})

	It("should fail with a CancelledError on Cancel", func() {
		st := NewStatus("dev", 0, 0)

		st.Cancel("device unstaged")

		Eventually(st.Done()).Should(BeClosed())

		var cancelErr *CancelledError
		Expect(errors.As(st.Err(), &cancelErr)).To(BeTrue())
		Expect(cancelErr.Reason).To(Equal("device unstaged"))
	})

	It("should unblock Wait when the context is cancelled", func() {
		st := NewStatus("dev", 0, 0)
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			errCh <- st.Wait(ctx)
		}()

		cancel()

		Eventually(errCh).Should(Receive(MatchError(context.Canceled)))
	})

	It("should return the resolution error from Wait", func() {
		st := NewStatus("dev", 0, 0)
		st.SetError(errors.New("boom"))

		err := st.Wait(context.Background())

		Expect(err).To(MatchError("boom"))
	})

	It("should create pre-resolved statuses", func() {
		ok := NewFinishedStatus("dev")
		bad := NewFailedStatus("dev", errors.New("nope"))

		Expect(ok.Done()).To(BeClosed())
		Expect(ok.Err()).To(BeNil())
		Expect(bad.Done()).To(BeClosed())
		Expect(bad.Err()).To(MatchError("nope"))
	})
})
