package device

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PulseLaser", func() {
	var (
		pulseID *SoftSignal
		power   *SoftSignal
		laser   *PulseLaser
	)

	BeforeEach(func() {
		pulseID = NewSoftSignal("laser1_pulse_id", 100)
		power = NewSoftSignal("laser1_power", 0)
		laser = NewPulseLaser(PulseLaserConfig{
			Name:    "laser1",
			PulseID: pulseID,
			Power:   power,
		})
	})

	AfterEach(func() {
		laser.Close()
	})

	It("should resolve a trigger on the next pulse", func() {
		st := laser.Trigger()
		Expect(st.Resolved()).To(BeFalse())

		Expect(pulseID.Put(101)).To(Succeed())

		Eventually(st.Done()).Should(BeClosed())
		Expect(st.Err()).To(BeNil())
		Expect(laser.PendingTriggers()).To(Equal(0))
	})

	It("should resolve all pending triggers on one pulse", func() {
		statuses := []*Status{
			laser.Trigger(),
			laser.Trigger(),
			laser.Trigger(),
		}
		Expect(laser.PendingTriggers()).To(Equal(3))

		Expect(pulseID.Put(101)).To(Succeed())

		for _, st := range statuses {
			Eventually(st.Done()).Should(BeClosed())
			Expect(st.Err()).To(BeNil())
		}
		Expect(laser.PendingTriggers()).To(Equal(0))
	})

	It("should not resolve a trigger against an earlier pulse", func() {
		Expect(pulseID.Put(101)).To(Succeed())

		st := laser.Trigger()

		Expect(st.Resolved()).To(BeFalse())

		Expect(pulseID.Put(102)).To(Succeed())
		Eventually(st.Done()).Should(BeClosed())
		Expect(st.Err()).To(BeNil())
	})

	It("should fail a trigger when no pulse arrives in time", func() {
		quick := NewPulseLaser(PulseLaserConfig{
			Name:           "laser2",
			PulseID:        NewSoftSignal("laser2_pulse_id", 0),
			TriggerTimeout: 20 * time.Millisecond,
		})
		defer quick.Close()

		st := quick.Trigger()

		Eventually(st.Done(), time.Second).Should(BeClosed())

		var timeoutErr *TimeoutError
		Expect(errors.As(st.Err(), &timeoutErr)).To(BeTrue())
		Expect(timeoutErr.Waiting).To(Equal("laser2"))
		Expect(timeoutErr.Target).To(Equal("next pulse"))
	})

	It("should hold the trigger for the pulse-identifier delay", func() {
		delayed := NewPulseLaser(PulseLaserConfig{
			Name:         "laser3",
			PulseID:      pulseID,
			PulseIDDelay: 50 * time.Millisecond,
		})
		defer delayed.Close()

		st := delayed.Trigger()
		start := time.Now()

		Expect(pulseID.Put(101)).To(Succeed())

		Eventually(st.Done(), time.Second).Should(BeClosed())
		Expect(st.Err()).To(BeNil())
		Expect(time.Since(start)).To(
			BeNumerically(">=", 40*time.Millisecond))
	})

	It("should read the most recent pulse identifier", func() {
		Expect(pulseID.Put(205)).To(Succeed())

		readings, err := laser.Read()

		Expect(err).ToNot(HaveOccurred())
		Expect(readings).To(HaveLen(1))
		Expect(readings[0].Name).To(Equal("laser1_pulse_id"))
		Expect(readings[0].Value).To(Equal(205.0))
	})

	It("should refuse to stage twice", func() {
		Expect(laser.Stage()).To(Succeed())
		Expect(laser.Stage()).To(
			MatchError("laser laser1 is already staged"))
	})

	It("should cancel pending triggers on unstage", func() {
		Expect(laser.Stage()).To(Succeed())
		st := laser.Trigger()

		Expect(laser.Unstage()).To(Succeed())

		Eventually(st.Done()).Should(BeClosed())

		var cancelErr *CancelledError
		Expect(errors.As(st.Err(), &cancelErr)).To(BeTrue())
		Expect(cancelErr.Reason).To(Equal("laser laser1 unstaged"))
		Expect(laser.PendingTriggers()).To(Equal(0))
	})

	It("should allow staging again after unstage", func() {
		Expect(laser.Stage()).To(Succeed())
		Expect(laser.Unstage()).To(Succeed())
		Expect(laser.Stage()).To(Succeed())
	})

	It("should stop reacting to pulses after Close", func() {
		st := laser.Trigger()

		laser.Close()

		var cancelErr *CancelledError
		Eventually(st.Done()).Should(BeClosed())
		Expect(errors.As(st.Err(), &cancelErr)).To(BeTrue())

		Expect(pulseID.Put(300)).To(Succeed())
		Expect(laser.PendingTriggers()).To(Equal(0))
	})
})
