package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/scanlab/tomoscan/device"
)

// State names the RunEngine's execution state.
type State string

// Engine states.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StatePausing  State = "pausing"
	StatePaused   State = "paused"
	StateAborting State = "aborting"
)

// A Plan is a scan procedure. Its body runs on a dedicated goroutine and
// drives the hardware by handing instructions to the engine through the
// Emitter.
type Plan struct {
	Name string
	Body func(e *Emitter) error
}

// EngineStatus is a point-in-time snapshot of the engine.
type EngineStatus struct {
	State    State
	Plan     string
	RunUID   string
	Messages int
	Events   int
}

// A RunEngine executes plans one instruction at a time. It owns the run
// bracket, reading bundles, wait groups, and staged-device tracking, emits
// the run documents to its subscribers, and supports pausing at checkpoints,
// rewinding on resume, and aborting.
//
// Run blocks until the plan finishes. The control methods are safe to call
// from other goroutines.
type RunEngine struct {
	HookableBase

	mu          sync.Mutex
	state       State
	subscribers []DocumentSubscriber
	current     *runState
}

// runState is the engine-side bookkeeping of one Run call. Fields below the
// lock comment are touched by control methods and guarded by the engine
// mutex; the rest belong to the engine goroutine.
type runState struct {
	msgs    chan Msg
	replies chan planReply

	abortCtx    context.Context
	abortCancel context.CancelFunc
	resumeCh    chan struct{}

	runOpen    bool
	bundleOpen bool
	bundleName string
	bundle     []device.Reading
	groups     map[string][]*device.Status
	staged     []device.Stageable
	cache      []Msg
	caching    bool

	// guarded by the engine mutex
	planName      string
	runUID        string
	seq           int
	msgCount      int
	pauseNow      bool
	pauseDeferred bool
	abortPending  bool
	abortReason   string
}

// NewRunEngine creates a RunEngine.
func NewRunEngine() *RunEngine {
	re := new(RunEngine)
	re.state = StateIdle

	return re
}

// Subscribe registers a subscriber for the documents of every later run.
func (re *RunEngine) Subscribe(sub DocumentSubscriber) {
	re.mu.Lock()
	defer re.mu.Unlock()

	re.subscribers = append(re.subscribers, sub)
}

// Status returns a snapshot of the engine state.
func (re *RunEngine) Status() EngineStatus {
	re.mu.Lock()
	defer re.mu.Unlock()

	s := EngineStatus{State: re.state}
	if re.current != nil {
		s.Plan = re.current.planName
		s.RunUID = re.current.runUID
		s.Messages = re.current.msgCount
		s.Events = re.current.seq
	}

	return s
}

// Run executes a plan to completion and returns its error joined with any
// cleanup error. Only one plan runs at a time.
func (re *RunEngine) Run(p Plan) error {
	if p.Body == nil {
		return errors.New("plan has no body")
	}

	rs := &runState{
		planName: p.Name,
		msgs:     make(chan Msg),
		replies:  make(chan planReply),
		resumeCh: make(chan struct{}, 1),
		groups:   make(map[string][]*device.Status),
	}
	rs.abortCtx, rs.abortCancel = context.WithCancel(context.Background())
	defer rs.abortCancel()

	re.mu.Lock()
	if re.state != StateIdle {
		re.mu.Unlock()
		return ErrEngineBusy
	}
	re.state = StateRunning
	re.current = rs
	re.mu.Unlock()

	em := &Emitter{msgs: rs.msgs, replies: rs.replies, ctx: rs.abortCtx}

	planDone := make(chan error, 1)
	go func() {
		planDone <- p.Body(em)
	}()

	planErr := re.loop(rs, planDone)

	re.mu.Lock()
	aborted := re.state == StateAborting
	reason := rs.abortReason
	re.mu.Unlock()

	cleanupErr := re.backstop(rs, planErr, aborted, reason)

	re.mu.Lock()
	re.state = StateIdle
	re.current = nil
	re.mu.Unlock()

	err := errors.Join(planErr, cleanupErr)
	if err == nil && aborted {
		err = fmt.Errorf("%w: %s", ErrAborted, reason)
	}

	return err
}

// loop executes instructions until the plan goroutine returns. The plan
// blocks on each reply, so when it returns no instruction is outstanding.
func (re *RunEngine) loop(rs *runState, planDone <-chan error) error {
	for {
		select {
		case err := <-planDone:
			return err
		case msg := <-rs.msgs:
			v, err := re.dispatch(rs, msg)
			rs.replies <- planReply{value: v, err: err}
		}
	}
}

func (re *RunEngine) dispatch(rs *runState, msg Msg) (interface{}, error) {
	re.mu.Lock()
	pauseNow := rs.pauseNow
	re.mu.Unlock()

	if pauseNow {
		if err := re.park(rs); err != nil {
			return nil, err
		}
	}

	re.mu.Lock()
	pending := rs.abortPending
	reason := rs.abortReason
	rs.abortPending = false
	re.mu.Unlock()

	if pending {
		return nil, fmt.Errorf("%w: %s", ErrAborted, reason)
	}

	if rs.caching {
		rs.cache = append(rs.cache, msg)
	}

	return re.execute(rs, msg)
}

func (re *RunEngine) execute(rs *runState, msg Msg) (interface{}, error) {
	hookCtx := HookCtx{
		Domain: re,
		Pos:    HookPosBeforeMsg,
		Item:   msg,
	}
	re.InvokeHook(hookCtx)

	v, err := re.executeMsg(rs, msg)

	hookCtx.Pos = HookPosAfterMsg
	hookCtx.Detail = err
	re.InvokeHook(hookCtx)

	re.mu.Lock()
	rs.msgCount++
	re.mu.Unlock()

	return v, err
}

func (re *RunEngine) executeMsg(rs *runState, msg Msg) (interface{}, error) {
	switch msg.Command {
	case CmdNull:
		return nil, nil
	case CmdStage:
		return nil, re.execStage(rs, msg)
	case CmdUnstage:
		return nil, re.execUnstage(rs, msg)
	case CmdOpenRun:
		return re.execOpenRun(rs, msg)
	case CmdCloseRun:
		return nil, re.execCloseRun(rs, msg)
	case CmdCheckpoint:
		return nil, re.execCheckpoint(rs)
	case CmdSet:
		return re.execSet(rs, msg)
	case CmdTrigger:
		return re.execTrigger(rs, msg)
	case CmdWait:
		return nil, re.execWait(rs, msg)
	case CmdCreate:
		return nil, re.execCreate(rs, msg)
	case CmdRead:
		return re.execRead(rs, msg)
	case CmdSave:
		return nil, re.execSave(rs)
	case CmdSleep:
		return nil, re.execSleep(rs, msg)
	default:
		return nil, fmt.Errorf("unknown command %q", msg.Command)
	}
}

func (re *RunEngine) execStage(rs *runState, msg Msg) error {
	if msg.Device == nil {
		return errors.New("stage: missing device")
	}
	dev, ok := msg.Device.(device.Stageable)
	if !ok {
		return fmt.Errorf("device %s is not stageable", msg.Device.Name())
	}

	if err := dev.Stage(); err != nil {
		return err
	}
	rs.staged = append(rs.staged, dev)

	return nil
}

func (re *RunEngine) execUnstage(rs *runState, msg Msg) error {
	if msg.Device == nil {
		return errors.New("unstage: missing device")
	}
	dev, ok := msg.Device.(device.Stageable)
	if !ok {
		return fmt.Errorf("device %s is not stageable", msg.Device.Name())
	}

	for i := len(rs.staged) - 1; i >= 0; i-- {
		if rs.staged[i] == dev {
			rs.staged = append(rs.staged[:i], rs.staged[i+1:]...)
			break
		}
	}

	return dev.Unstage()
}

func (re *RunEngine) execOpenRun(rs *runState, msg Msg) (interface{}, error) {
	if rs.runOpen {
		return nil, &IllegalSequenceError{
			Command: CmdOpenRun,
			Reason:  "a run is already open",
		}
	}

	uid := xid.New().String()

	re.mu.Lock()
	rs.runUID = uid
	rs.seq = 0
	re.mu.Unlock()

	rs.runOpen = true

	re.publish(func(sub DocumentSubscriber) {
		sub.OnRunStart(RunStart{
			UID:      uid,
			Time:     time.Now(),
			Plan:     rs.planName,
			Metadata: msg.Metadata,
		})
	})

	return uid, nil
}

func (re *RunEngine) execCloseRun(rs *runState, msg Msg) error {
	if !rs.runOpen {
		return &IllegalSequenceError{
			Command: CmdCloseRun,
			Reason:  "no open run",
		}
	}

	status, reason := msg.ExitStatus, msg.Reason
	if status == "" {
		status = ExitSuccess
	}

	re.mu.Lock()
	if re.state == StateAborting {
		status, reason = ExitAbort, rs.abortReason
	}
	uid, numEvents := rs.runUID, rs.seq
	re.mu.Unlock()

	rs.runOpen = false
	rs.caching = false
	rs.cache = nil
	rs.bundleOpen = false

	re.publish(func(sub DocumentSubscriber) {
		sub.OnRunStop(RunStop{
			RunUID:     uid,
			Time:       time.Now(),
			ExitStatus: status,
			Reason:     reason,
			NumEvents:  numEvents,
		})
	})

	return nil
}

func (re *RunEngine) execCheckpoint(rs *runState) error {
	if rs.bundleOpen {
		return &IllegalSequenceError{
			Command: CmdCheckpoint,
			Reason:  "a bundle is open",
		}
	}

	rs.cache = rs.cache[:0]
	rs.caching = true

	re.mu.Lock()
	deferred := rs.pauseDeferred
	re.mu.Unlock()

	if deferred {
		return re.park(rs)
	}

	return nil
}

func (re *RunEngine) execSet(rs *runState, msg Msg) (interface{}, error) {
	if msg.Device == nil {
		return nil, errors.New("set: missing device")
	}
	dev, ok := msg.Device.(device.Movable)
	if !ok {
		return nil, fmt.Errorf("device %s is not movable", msg.Device.Name())
	}

	st := dev.Set(msg.Value)
	if msg.Group == "" {
		return st, re.waitStatuses(rs, []*device.Status{st})
	}
	rs.groups[msg.Group] = append(rs.groups[msg.Group], st)

	return st, nil
}

func (re *RunEngine) execTrigger(rs *runState, msg Msg) (interface{}, error) {
	if msg.Device == nil {
		return nil, errors.New("trigger: missing device")
	}
	dev, ok := msg.Device.(device.Triggerable)
	if !ok {
		return nil, fmt.Errorf("device %s is not triggerable",
			msg.Device.Name())
	}

	st := dev.Trigger()
	if msg.Group == "" {
		return st, re.waitStatuses(rs, []*device.Status{st})
	}
	rs.groups[msg.Group] = append(rs.groups[msg.Group], st)

	return st, nil
}

func (re *RunEngine) execWait(rs *runState, msg Msg) error {
	sts, ok := rs.groups[msg.Group]
	if !ok {
		return fmt.Errorf("wait: unknown group %q", msg.Group)
	}
	delete(rs.groups, msg.Group)

	return re.waitStatuses(rs, sts)
}

// waitStatuses blocks on every status in turn. An abort cancels the run
// context, so an in-flight wait converts into the one ErrAborted delivery.
func (re *RunEngine) waitStatuses(rs *runState, sts []*device.Status) error {
	for _, st := range sts {
		if err := st.Wait(rs.abortCtx); err != nil {
			if rs.abortCtx.Err() != nil {
				return re.abortError(rs)
			}
			return err
		}
	}

	return nil
}

func (re *RunEngine) abortError(rs *runState) error {
	re.mu.Lock()
	rs.abortPending = false
	reason := rs.abortReason
	re.mu.Unlock()

	return fmt.Errorf("%w: %s", ErrAborted, reason)
}

func (re *RunEngine) execCreate(rs *runState, msg Msg) error {
	if !rs.runOpen {
		return &IllegalSequenceError{
			Command: CmdCreate,
			Reason:  "no open run",
		}
	}
	if rs.bundleOpen {
		return &IllegalSequenceError{
			Command: CmdCreate,
			Reason:  "a bundle is already open",
		}
	}

	name := msg.Name
	if name == "" {
		name = DefaultBundle
	}
	rs.bundleOpen = true
	rs.bundleName = name
	rs.bundle = rs.bundle[:0]

	return nil
}

func (re *RunEngine) execRead(rs *runState, msg Msg) (interface{}, error) {
	if msg.Device == nil {
		return nil, errors.New("read: missing device")
	}
	dev, ok := msg.Device.(device.Readable)
	if !ok {
		return nil, fmt.Errorf("device %s is not readable", msg.Device.Name())
	}

	readings, err := dev.Read()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dev.Name(), err)
	}
	if rs.bundleOpen {
		rs.bundle = append(rs.bundle, readings...)
	}

	return readings, nil
}

func (re *RunEngine) execSave(rs *runState) error {
	if !rs.bundleOpen {
		return &IllegalSequenceError{
			Command: CmdSave,
			Reason:  "no open bundle",
		}
	}

	re.mu.Lock()
	rs.seq++
	seq := rs.seq
	uid := rs.runUID
	re.mu.Unlock()

	evt := Event{
		RunUID:   uid,
		Seq:      seq,
		Name:     rs.bundleName,
		Time:     time.Now(),
		Readings: append([]device.Reading(nil), rs.bundle...),
	}
	rs.bundleOpen = false

	re.publish(func(sub DocumentSubscriber) {
		sub.OnEvent(evt)
	})

	return nil
}

func (re *RunEngine) execSleep(rs *runState, msg Msg) error {
	select {
	case <-time.After(msg.Duration):
		return nil
	case <-rs.abortCtx.Done():
		return re.abortError(rs)
	}
}

// park blocks the engine in the paused state until Resume or Abort. Group
// and bundle work in progress is dropped; the rewind replay reissues it.
func (re *RunEngine) park(rs *runState) error {
	re.mu.Lock()
	rs.pauseNow = false
	rs.pauseDeferred = false
	re.state = StatePaused
	re.mu.Unlock()

	rs.groups = make(map[string][]*device.Status)
	rs.bundleOpen = false

	select {
	case <-rs.resumeCh:
		re.mu.Lock()
		re.state = StateRunning
		re.mu.Unlock()

		return re.replay(rs)
	case <-rs.abortCtx.Done():
		return re.abortError(rs)
	}
}

// replay re-executes the instructions cached since the last checkpoint. The
// plan already holds their replies, so the results go nowhere; the point is
// to redo the hardware work the pause interrupted.
func (re *RunEngine) replay(rs *runState) error {
	msgs := append([]Msg(nil), rs.cache...)
	rs.cache = rs.cache[:0]

	for _, m := range msgs {
		rs.cache = append(rs.cache, m)
		if _, err := re.execute(rs, m); err != nil {
			return fmt.Errorf("rewind replay: %w", err)
		}
	}

	return nil
}

// backstop closes whatever the plan left open after it returned: a dangling
// run bracket and still-staged devices. Plans are expected to clean up in
// their own deferred paths; this is the engine's guarantee when they do not.
func (re *RunEngine) backstop(
	rs *runState,
	planErr error,
	aborted bool,
	reason string,
) error {
	var errs []error

	rs.bundleOpen = false

	if rs.runOpen {
		status := ExitSuccess
		switch {
		case aborted:
			status = ExitAbort
		case planErr != nil:
			status = ExitFail
			reason = planErr.Error()
		}

		re.mu.Lock()
		uid, numEvents := rs.runUID, rs.seq
		re.mu.Unlock()

		rs.runOpen = false
		re.publish(func(sub DocumentSubscriber) {
			sub.OnRunStop(RunStop{
				RunUID:     uid,
				Time:       time.Now(),
				ExitStatus: status,
				Reason:     reason,
				NumEvents:  numEvents,
			})
		})
	}

	for i := len(rs.staged) - 1; i >= 0; i-- {
		dev := rs.staged[i]
		if err := dev.Unstage(); err != nil {
			errs = append(errs,
				fmt.Errorf("backstop unstage %s: %w", dev.Name(), err))
		}
	}
	rs.staged = nil

	return errors.Join(errs...)
}

func (re *RunEngine) publish(deliver func(DocumentSubscriber)) {
	re.mu.Lock()
	subs := make([]DocumentSubscriber, len(re.subscribers))
	copy(subs, re.subscribers)
	re.mu.Unlock()

	for _, sub := range subs {
		deliver(sub)
	}
}

// RequestPause asks the engine to pause at the next checkpoint.
func (re *RunEngine) RequestPause() error {
	re.mu.Lock()
	defer re.mu.Unlock()

	if re.current == nil {
		return errors.New("no plan is running")
	}
	if re.state != StateRunning && re.state != StatePausing {
		return fmt.Errorf("cannot pause in state %s", re.state)
	}

	re.state = StatePausing
	re.current.pauseDeferred = true

	return nil
}

// RequestPauseNow asks the engine to pause before the next instruction. An
// in-flight wait still completes first.
func (re *RunEngine) RequestPauseNow() error {
	re.mu.Lock()
	defer re.mu.Unlock()

	if re.current == nil {
		return errors.New("no plan is running")
	}
	if re.state != StateRunning && re.state != StatePausing {
		return fmt.Errorf("cannot pause in state %s", re.state)
	}

	re.state = StatePausing
	re.current.pauseNow = true

	return nil
}

// Resume continues a paused run. The instructions cached since the last
// checkpoint are replayed first.
func (re *RunEngine) Resume() error {
	re.mu.Lock()
	if re.state != StatePaused {
		re.mu.Unlock()
		return fmt.Errorf("cannot resume in state %s", re.state)
	}
	rs := re.current
	re.mu.Unlock()

	select {
	case rs.resumeCh <- struct{}{}:
	default:
	}

	return nil
}

// Abort stops the current run. The in-flight wait fails, the plan receives
// ErrAborted once so its deferred cleanup can unwind, and cleanup
// instructions still execute.
func (re *RunEngine) Abort(reason string) error {
	re.mu.Lock()
	if re.current == nil {
		re.mu.Unlock()
		return errors.New("no plan is running")
	}
	if reason == "" {
		reason = "user abort"
	}
	rs := re.current
	rs.abortReason = reason
	rs.abortPending = true
	re.state = StateAborting
	re.mu.Unlock()

	rs.abortCancel()

	return nil
}
