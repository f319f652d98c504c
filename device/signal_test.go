package device

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SoftSignal", func() {
	var sig *SoftSignal

	BeforeEach(func() {
		sig = NewSoftSignal("motor1_readback", 1.5)
	})

	It("should report its name and initial value", func() {
		Expect(sig.Name()).To(Equal("motor1_readback"))
		Expect(sig.Read()).To(Equal(1.5))
	})

	It("should store written values with a fresh timestamp", func() {
		before := sig.LastTimestamp()

		Expect(sig.Put(3.25)).To(Succeed())

		Expect(sig.Read()).To(Equal(3.25))
		Expect(sig.LastTimestamp().Before(before)).To(BeFalse())
	})

	It("should deliver updates to subscribers", func() {
		var got []SignalUpdate
		sig.Subscribe(func(u SignalUpdate) {
			got = append(got, u)
		})

		Expect(sig.Put(1)).To(Succeed())
		Expect(sig.Put(0)).To(Succeed())

		Expect(got).To(HaveLen(2))
		Expect(got[0].Value).To(Equal(1.0))
		Expect(got[1].Value).To(Equal(0.0))
	})

	It("should not replay the current value on subscribe", func() {
		Expect(sig.Put(7)).To(Succeed())

		calls := 0
		sig.Subscribe(func(u SignalUpdate) {
			calls++
		})

		Expect(calls).To(Equal(0))
	})

	It("should stop delivering after Cancel", func() {
		calls := 0
		sub := sig.Subscribe(func(u SignalUpdate) {
			calls++
		})

		Expect(sig.Put(1)).To(Succeed())
		sub.Cancel()
		Expect(sig.Put(2)).To(Succeed())

		Expect(calls).To(Equal(1))
		Expect(sig.NumSubscribers()).To(Equal(0))
	})

	It("should tolerate repeated Cancel calls", func() {
		sub := sig.Subscribe(func(u SignalUpdate) {})

		sub.Cancel()
		sub.Cancel()

		Expect(sig.NumSubscribers()).To(Equal(0))
	})

	It("should allow a subscriber to write the signal", func() {
		// Callbacks run outside the signal lock, so a monitor that
		// reacts by writing back must not deadlock.
		sig.Subscribe(func(u SignalUpdate) {
			if u.Value == 1 {
				Expect(sig.Put(2)).To(Succeed())
			}
		})

		Expect(sig.Put(1)).To(Succeed())

		Expect(sig.Read()).To(Equal(2.0))
	})
})
