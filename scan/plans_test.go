package scan

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/scanlab/tomoscan/device"
)

var _ = Describe("Positions", func() {
	It("should spread the steps over the range inclusively", func() {
		positions, err := Positions(0, 180, 5)

		Expect(err).ToNot(HaveOccurred())
		Expect(positions).To(Equal([]float64{0, 45, 90, 135, 180}))
	})

	It("should support descending ranges", func() {
		positions, err := Positions(90, 0, 3)

		Expect(err).ToNot(HaveOccurred())
		Expect(positions).To(Equal([]float64{90, 45, 0}))
	})

	It("should hit the endpoints exactly", func() {
		positions, err := Positions(0.1, 0.7, 7)

		Expect(err).ToNot(HaveOccurred())
		Expect(positions[0]).To(Equal(0.1))
		Expect(positions[6]).To(Equal(0.7))
	})

	It("should reject fewer than 2 steps", func() {
		_, err := Positions(0, 180, 1)

		Expect(err).To(MatchError(ContainSubstring("at least 2 steps")))
	})
})

var _ = Describe("Plans", func() {
	var (
		engine *RunEngine
		j      *journal
		docs   *collector
		motor  *fakeMotor
		det    *fakeDetector
	)

	BeforeEach(func() {
		engine = NewRunEngine()
		j = newJournal()
		docs = newCollector(j)
		engine.Subscribe(docs)
		motor = newFakeMotor("motor1", j)
		det = newFakeDetector("det1", j)
	})

	Describe("Scan", func() {
		It("should visit every position and record one event per step", func() {
			p := Scan([]device.Readable{det}, motor, 0, 180, 5)

			Expect(engine.Run(p)).To(Succeed())

			Expect(motor.Positions()).To(
				Equal([]float64{0, 45, 90, 135, 180}))

			starts := docs.Starts()
			Expect(starts).To(HaveLen(1))
			Expect(starts[0].Plan).To(Equal("scan"))
			Expect(starts[0].Metadata).To(HaveKeyWithValue("steps", 5))
			Expect(starts[0].Metadata).To(
				HaveKeyWithValue("motor", "motor1"))

			events := docs.Events()
			Expect(events).To(HaveLen(5))
			expected := []float64{0, 45, 90, 135, 180}
			for i, evt := range events {
				Expect(evt.Seq).To(Equal(i + 1))

				pos, ok := readingValue(evt, "motor1")
				Expect(ok).To(BeTrue())
				Expect(pos).To(Equal(expected[i]))

				_, ok = readingValue(evt, "det1")
				Expect(ok).To(BeTrue())
			}

			stops := docs.Stops()
			Expect(stops).To(HaveLen(1))
			Expect(stops[0].ExitStatus).To(Equal(ExitSuccess))
			Expect(stops[0].NumEvents).To(Equal(5))

			Expect(det.stageCount()).To(Equal(1))
			Expect(det.unstageCount()).To(Equal(1))
		})
	})

	Describe("MultiScan", func() {
		It("should repeat the reading at every position", func() {
			p := MultiScan([]device.Readable{det}, motor, 0, 90, 3, 2)

			Expect(engine.Run(p)).To(Succeed())

			Expect(motor.Positions()).To(Equal([]float64{0, 45, 90}))
			Expect(det.triggerCount()).To(Equal(6))

			events := docs.Events()
			Expect(events).To(HaveLen(6))
			expected := []float64{0, 0, 45, 45, 90, 90}
			for i, evt := range events {
				pos, ok := readingValue(evt, "motor1")
				Expect(ok).To(BeTrue())
				Expect(pos).To(Equal(expected[i]))
			}
		})

		It("should reject a repeat count below 1", func() {
			p := MultiScan([]device.Readable{det}, motor, 0, 90, 3, 0)

			err := engine.Run(p)

			Expect(err).To(
				MatchError(ContainSubstring("at least 1 repeat")))
			Expect(det.stageCount()).To(Equal(0))
		})

		It("should unstage exactly once when a trigger fails mid-scan", func() {
			det.failTriggerAt = 3
			p := MultiScan([]device.Readable{det}, motor, 0, 180, 5, 1)

			err := engine.Run(p)

			Expect(err).To(MatchError(ContainSubstring("exposure failed")))
			Expect(det.stageCount()).To(Equal(1))
			Expect(det.unstageCount()).To(Equal(1))

			Expect(docs.Events()).To(HaveLen(2))
			stops := docs.Stops()
			Expect(stops).To(HaveLen(1))
			Expect(stops[0].ExitStatus).To(Equal(ExitFail))
			Expect(stops[0].Reason).To(ContainSubstring("exposure failed"))
		})

		It("should close the run before unstaging", func() {
			p := MultiScan([]device.Readable{det}, motor, 0, 90, 2, 1)

			Expect(engine.Run(p)).To(Succeed())

			entries := j.list()
			Expect(entries[len(entries)-2]).To(Equal("run stop"))
			Expect(entries[len(entries)-1]).To(Equal("unstage det1"))
		})
	})

	Describe("Count", func() {
		It("should record the requested number of readings", func() {
			p := Count([]device.Readable{det}, 3, 0)

			Expect(engine.Run(p)).To(Succeed())

			Expect(docs.Events()).To(HaveLen(3))
			Expect(det.triggerCount()).To(Equal(3))
			Expect(motor.setCalls()).To(Equal(0))

			starts := docs.Starts()
			Expect(starts[0].Plan).To(Equal("count"))
			Expect(starts[0].Metadata).To(HaveKeyWithValue("num", 3))
		})
	})

	Describe("PulseSyncScan", func() {
		It("should record once per pulse window at every position", func() {
			pulseID := device.NewSoftSignal("laser1_pulse_id", 0)
			power := device.NewSoftSignal("laser1_power", 0)
			laser := device.NewPulseLaser(device.PulseLaserConfig{
				Name:    "laser1",
				PulseID: pulseID,
				Power:   power,
			})
			defer laser.Close()

			// Simulated pulse train: power rises, the pulse identifier
			// ticks at the end of the pulse, power falls.
			stopPulser := make(chan struct{})
			pulserDone := make(chan struct{})
			go func() {
				defer close(pulserDone)
				id := 0.0
				for {
					select {
					case <-stopPulser:
						return
					case <-time.After(3 * time.Millisecond):
					}
					power.Put(1)
					time.Sleep(3 * time.Millisecond)
					id++
					pulseID.Put(id)
					power.Put(0)
				}
			}()
			defer func() {
				close(stopPulser)
				<-pulserDone
			}()

			p := PulseSyncScan(
				[]device.Readable{det, laser}, motor, laser, 0, 90, 3)

			Expect(engine.Run(p)).To(Succeed())

			Expect(motor.Positions()).To(Equal([]float64{0, 45, 90}))

			events := docs.Events()
			Expect(events).To(HaveLen(3))

			lastID := 0.0
			for _, evt := range events {
				id, ok := readingValue(evt, "laser1_pulse_id")
				Expect(ok).To(BeTrue())
				Expect(id).To(BeNumerically(">", lastID))
				lastID = id
			}

			Expect(laser.PendingTriggers()).To(Equal(0))
		})

		It("should wait out a pulse already in progress", func() {
			pulseID := device.NewSoftSignal("laser1_pulse_id", 4)
			power := device.NewSoftSignal("laser1_power", 1)
			laser := device.NewPulseLaser(device.PulseLaserConfig{
				Name:    "laser1",
				PulseID: pulseID,
				Power:   power,
			})
			defer laser.Close()

			stopPulser := make(chan struct{})
			pulserDone := make(chan struct{})
			go func() {
				defer close(pulserDone)

				// End of the pulse that is in progress at plan entry.
				id := 5.0
				select {
				case <-stopPulser:
					return
				case <-time.After(12 * time.Millisecond):
				}
				pulseID.Put(id)
				power.Put(0)

				for {
					select {
					case <-stopPulser:
						return
					case <-time.After(15 * time.Millisecond):
					}
					power.Put(1)
					time.Sleep(15 * time.Millisecond)
					id++
					pulseID.Put(id)
					power.Put(0)
				}
			}()
			defer func() {
				close(stopPulser)
				<-pulserDone
			}()

			p := PulseSyncScan(
				[]device.Readable{det, laser}, motor, laser, 0, 90, 2)

			Expect(engine.Run(p)).To(Succeed())

			events := docs.Events()
			Expect(events).To(HaveLen(2))

			// The in-progress pulse ends with identifier 5. Recording
			// during it would capture 5; waiting for the gap and the next
			// rising edge makes 6 the earliest recordable pulse.
			first, ok := readingValue(events[0], "laser1_pulse_id")
			Expect(ok).To(BeTrue())
			Expect(first).To(BeNumerically(">=", 6))

			second, ok := readingValue(events[1], "laser1_pulse_id")
			Expect(ok).To(BeTrue())
			Expect(second).To(BeNumerically(">", first))
		})
	})

	Describe("PassiveScan", func() {
		var (
			state      *device.SoftSignal
			reader     *device.SignalReader
			stopCycler chan struct{}
			cyclerDone chan struct{}
		)

		// Simulated externally driven detector cycling between idle and
		// acquiring.
		BeforeEach(func() {
			state = device.NewSoftSignal("det1_state",
				device.DetectorStateIdle)
			reader = device.NewSignalReader(
				device.NewSoftSignal("pulse_id", 7))

			stopCycler = make(chan struct{})
			cyclerDone = make(chan struct{})
			go func() {
				defer close(cyclerDone)
				for {
					select {
					case <-stopCycler:
						return
					case <-time.After(3 * time.Millisecond):
					}
					state.Put(device.DetectorStateAcquiring)
					time.Sleep(3 * time.Millisecond)
					state.Put(device.DetectorStateIdle)
				}
			}()
		})

		AfterEach(func() {
			close(stopCycler)
			<-cyclerDone
		})

		It("should stage and move into position before opening the run", func() {
			p := PassiveScan([]device.Stageable{det},
				motor, state, reader, 0, 90, 3)

			Expect(engine.Run(p)).To(Succeed())

			entries := j.list()
			Expect(entries[0]).To(Equal("stage det1"))
			Expect(entries[1]).To(Equal("set 0"))
			Expect(entries[2]).To(Equal("run start"))
			Expect(entries[len(entries)-2]).To(Equal("run stop"))
			Expect(entries[len(entries)-1]).To(Equal("unstage det1"))

			Expect(motor.Positions()).To(Equal([]float64{0, 0, 45, 90}))

			// The externally driven detector is never triggered or read
			// by the plan.
			Expect(det.triggerCount()).To(Equal(0))

			events := docs.Events()
			Expect(events).To(HaveLen(3))
			for _, evt := range events {
				id, ok := readingValue(evt, "pulse_id")
				Expect(ok).To(BeTrue())
				Expect(id).To(Equal(7.0))

				_, ok = readingValue(evt, "det1")
				Expect(ok).To(BeFalse())
			}
		})

		It("should unstage exactly once when a move fails mid-scan", func() {
			motor.failSetAt = 3
			p := PassiveScan([]device.Stageable{det},
				motor, state, reader, 0, 90, 3)

			err := engine.Run(p)

			Expect(err).To(MatchError(ContainSubstring("axis stuck")))
			Expect(det.stageCount()).To(Equal(1))
			Expect(det.unstageCount()).To(Equal(1))

			stops := docs.Stops()
			Expect(stops).To(HaveLen(1))
			Expect(stops[0].ExitStatus).To(Equal(ExitFail))
		})
	})
})
