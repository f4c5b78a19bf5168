// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// fakeTransport records written lines and answers queries
type fakeTransport struct {
	written  []string
	answers  map[string]string
	failOn   string // write fails for lines with this prefix
	readErr  error
	closed   bool
	closeErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		answers: map[string]string{
			CmdBattery:  "battery 87\r\n",
			CmdHardware: "hardware TACT-32\r\n",
			CmdFirmware: "firmware 2.1.0\r\n",
		},
	}
}

func (f *fakeTransport) WriteLine(line string) error {
	if f.failOn != "" && strings.HasPrefix(line, f.failOn) {
		return errors.New("link down")
	}
	f.written = append(f.written, line)
	return nil
}

func (f *fakeTransport) ReadLine() (string, error) {
	if f.readErr != nil {
		return "", f.readErr
	}
	if len(f.written) == 0 {
		return "", nil
	}
	if ans, ok := f.answers[f.written[len(f.written)-1]]; ok {
		return ans, nil
	}
	return "ok", nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return f.closeErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sessionFixture struct {
	session   *Session
	transport *fakeTransport
	events    []Event
}

func newSessionFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()
	fx := &sessionFixture{transport: newFakeTransport()}
	cfg.Logger = quietLogger()
	cfg.OnEvent = func(e Event) { fx.events = append(fx.events, e) }
	cfg.Clock = func() time.Time { return epoch }
	fx.session = NewSession(func(ctx context.Context) (Transport, error) {
		return fx.transport, nil
	}, cfg)
	return fx
}

func openFixture(t *testing.T, cfg SessionConfig) *sessionFixture {
	t.Helper()
	fx := newSessionFixture(t, cfg)
	if err := fx.session.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	fx.transport.written = nil
	fx.events = nil
	return fx
}

func (fx *sessionFixture) eventKinds() []EventKind {
	kinds := make([]EventKind, len(fx.events))
	for i, e := range fx.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func TestSessionOpen_Handshake(t *testing.T) {
	fx := newSessionFixture(t, SessionConfig{InitialFrequency: 50})

	if err := fx.session.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	want := []string{CmdIdentify, CmdBattery, CmdHardware, CmdFirmware, CmdPadsQty, "freq 50"}
	for id := 1; id <= 16; id++ {
		want = append(want, fmt.Sprintf("velec %d *selected 0", id))
	}
	if len(fx.transport.written) != len(want) {
		t.Fatalf("wrote %d lines, want %d: %v", len(fx.transport.written), len(want), fx.transport.written)
	}
	for i := range want {
		if fx.transport.written[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, fx.transport.written[i], want[i])
		}
	}

	if fx.session.State() != StateReady || !fx.session.Initialized() {
		t.Errorf("State() = %s, want ready", fx.session.State())
	}
	info := fx.session.DeviceInfo()
	if info.Battery != "87" || info.Hardware != "TACT-32" || info.Firmware != "2.1.0" {
		t.Errorf("DeviceInfo() = %+v", info)
	}
	if fx.session.Frequency() != 50 {
		t.Errorf("Frequency() = %d, want 50", fx.session.Frequency())
	}
	if fx.session.Log().Len() != len(want) {
		t.Errorf("log has %d records, want %d", fx.session.Log().Len(), len(want))
	}
	if kinds := fx.eventKinds(); len(kinds) != 1 || kinds[0] != EventConnected {
		t.Errorf("events = %v, want [connected]", kinds)
	}
}

func TestSessionOpen_DefaultFrequency(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	if fx.session.Frequency() != DefaultFrequency {
		t.Errorf("Frequency() = %d, want %d", fx.session.Frequency(), DefaultFrequency)
	}
}

func TestSessionOpen_QueryFallback(t *testing.T) {
	fx := newSessionFixture(t, SessionConfig{})
	fx.transport.answers[CmdBattery] = "  73%  "

	if err := fx.session.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := fx.session.DeviceInfo().Battery; got != "73%" {
		t.Errorf("Battery = %q, want %q", got, "73%")
	}
}

func TestSessionOpen_DelaysBetweenSteps(t *testing.T) {
	var slept []time.Duration
	fx := newSessionFixture(t, SessionConfig{
		InitDelay: 50 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	})

	if err := fx.session.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if len(slept) != 6 {
		t.Errorf("slept %d times, want 6", len(slept))
	}
	for _, d := range slept {
		if d != 50*time.Millisecond {
			t.Errorf("slept %v, want 50ms", d)
		}
	}
}

func TestSessionOpen_ConnectFailed(t *testing.T) {
	var events []Event
	s := NewSession(func(ctx context.Context) (Transport, error) {
		return nil, errors.New("no such port")
	}, SessionConfig{Logger: quietLogger(), OnEvent: func(e Event) { events = append(events, e) }})

	err := s.Open(context.Background())
	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Open() error = %v, want ErrConnectFailed", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", s.State())
	}
	if len(events) != 1 || events[0].Kind != EventConnectFailed || events[0].Err == nil {
		t.Errorf("events = %v, want one connect_failed", events)
	}
	if err := s.StartAll(); !errors.Is(err, ErrNotReady) {
		t.Errorf("StartAll() error = %v, want ErrNotReady", err)
	}
}

func TestSessionOpen_HandshakeFailure(t *testing.T) {
	fx := newSessionFixture(t, SessionConfig{})
	fx.transport.failOn = "hardware"

	err := fx.session.Open(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Open() error = %v, want ErrTransport", err)
	}
	if fx.session.State() != StateDisconnected {
		t.Errorf("State() = %s, want disconnected", fx.session.State())
	}
	if !fx.transport.closed {
		t.Error("transport should be closed after a failed handshake")
	}
	recs := fx.session.Log().Records()
	if last := recs[len(recs)-1]; !last.Failed() || last.Command != CmdHardware {
		t.Errorf("last record = %+v, want failed hardware query", last)
	}
}

func TestSessionOpen_Cancelled(t *testing.T) {
	fx := newSessionFixture(t, SessionConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := fx.session.Open(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Open() error = %v, want context.Canceled", err)
	}
}

func TestSessionOpen_Twice(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	if err := fx.session.Open(context.Background()); err == nil {
		t.Error("second Open() should fail")
	}
}

func TestSessionDefine(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	stim := testStimulation(t)

	if err := fx.session.Define(stim); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if len(fx.transport.written) != 1 || fx.transport.written[0] != stim.Command() {
		t.Errorf("written = %v", fx.transport.written)
	}

	if err := fx.session.Define(stim); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second Define() error = %v, want ErrDuplicateID", err)
	}
	if len(fx.transport.written) != 1 {
		t.Error("duplicate define should not be sent")
	}

	// the table holds a copy
	stim.SetIntensity(7)
	stored, ok := fx.session.Stimulation(11)
	if !ok || stored.Intensity() != 2.5 {
		t.Errorf("stored intensity = %v, want 2.5", stored.Intensity())
	}
}

func TestSessionUpdate(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	stim := testStimulation(t)

	if err := fx.session.Update(stim); !errors.Is(err, ErrUnknownStimulation) {
		t.Fatalf("Update() error = %v, want ErrUnknownStimulation", err)
	}

	if err := fx.session.Define(stim); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	stim.SetIntensity(4)
	if err := fx.session.Update(stim); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := fx.session.Update(stim); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if len(fx.transport.written) != 3 {
		t.Errorf("wrote %d lines, want 3 (Update always resends)", len(fx.transport.written))
	}
	stored, _ := fx.session.Stimulation(11)
	if stored.Intensity() != 4 {
		t.Errorf("stored intensity = %v, want 4", stored.Intensity())
	}
}

func TestSessionUpsert(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	stim := testStimulation(t)

	steps := []struct {
		name      string
		do        func() error
		wantLines int
	}{
		{"insert", func() error { return fx.session.Upsert(stim) }, 1},
		{"unchanged", func() error { return fx.session.Upsert(stim) }, 1},
		{"changed", func() error { stim.SetPulseWidth(300); return fx.session.Upsert(stim) }, 2},
		{"deselect", func() error { return fx.session.Deselect(11) }, 3},
		{"reselect by upsert", func() error { stim.SetSelected(true); return fx.session.Upsert(stim) }, 4},
	}

	for _, step := range steps {
		if err := step.do(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if len(fx.transport.written) != step.wantLines {
			t.Errorf("%s: wrote %d lines, want %d", step.name, len(fx.transport.written), step.wantLines)
		}
	}
}

func TestSessionDeselect(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	a := testStimulation(t)
	b, _ := NewStimulation(12, "other", 1, 100, []int{5}, 0, true)

	for _, s := range []*Stimulation{a, b} {
		if err := fx.session.Define(s); err != nil {
			t.Fatalf("Define failed: %v", err)
		}
	}
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if !fx.session.Running() {
		t.Fatal("Running() = false after StartAll")
	}

	if err := fx.session.Deselect(11); err != nil {
		t.Fatalf("Deselect failed: %v", err)
	}
	if last := fx.transport.written[len(fx.transport.written)-1]; last != "velec 11 *selected 0" {
		t.Errorf("last line = %q", last)
	}
	stored, _ := fx.session.Stimulation(11)
	if stored.Selected() {
		t.Error("stimulation 11 still selected")
	}
	if !fx.session.Running() {
		t.Error("Running() = false while 12 is selected")
	}

	if err := fx.session.Deselect(12); err != nil {
		t.Fatalf("Deselect failed: %v", err)
	}
	if fx.session.Running() {
		t.Error("Running() = true with nothing selected")
	}

	// unknown ids are sent but not tracked
	if err := fx.session.Deselect(15); err != nil {
		t.Errorf("Deselect(15) failed: %v", err)
	}
	if err := fx.session.Deselect(9); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Deselect(9) error = %v, want ErrInvalidID", err)
	}
}

func TestSessionSetSelected(t *testing.T) {
	fx := openFixture(t, SessionConfig{})

	if err := fx.session.SetSelected(11, true); !errors.Is(err, ErrUnknownStimulation) {
		t.Fatalf("SetSelected() error = %v, want ErrUnknownStimulation", err)
	}

	stim := testStimulation(t)
	stim.SetSelected(false)
	if err := fx.session.Define(stim); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := fx.session.SetSelected(11, true); err != nil {
		t.Fatalf("SetSelected failed: %v", err)
	}
	if last := fx.transport.written[len(fx.transport.written)-1]; last != "velec 11 *selected 1" {
		t.Errorf("last line = %q", last)
	}
	stored, _ := fx.session.Stimulation(11)
	if !stored.Selected() {
		t.Error("stimulation not selected")
	}
	if !fx.session.Running() {
		t.Error("Running() = false")
	}
}

func TestSessionStopAll(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	if err := fx.session.Define(testStimulation(t)); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	if err := fx.session.StopAll(); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	if last := fx.transport.written[len(fx.transport.written)-1]; last != CmdStimOff {
		t.Errorf("last line = %q", last)
	}
	for _, s := range fx.session.Stimulations() {
		if s.Selected() {
			t.Errorf("stimulation %d still selected", s.ID())
		}
	}
	if fx.session.Running() {
		t.Error("Running() = true after StopAll")
	}
}

func TestSessionStopAll_RequiresRedefinition(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	stim := testStimulation(t)
	if err := fx.session.Define(stim); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := fx.session.StopAll(); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	fx.transport.written = nil
	fx.events = nil

	// stim on without a new definition drives nothing
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if fx.session.Active(11) {
		t.Error("velec active after stop without redefinition")
	}
	if len(fx.events) != 0 {
		t.Errorf("events = %v, want none", fx.events)
	}
	if err := fx.session.StopAll(); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}
	fx.transport.written = nil

	// the same definition is sent again
	if err := fx.session.Upsert(stim); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if len(fx.transport.written) != 1 || fx.transport.written[0] != stim.Command() {
		t.Fatalf("written = %q, want the definition", fx.transport.written)
	}
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if !fx.session.Active(11) {
		t.Error("redefined velec not active")
	}
	if kinds := fx.eventKinds(); len(kinds) != 1 || kinds[0] != EventStimStarted {
		t.Errorf("events = %v, want one stim_started", fx.events)
	}
}

func TestSessionStartAll_KeepsSelection(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	off := testStimulation(t)
	off.SetSelected(false)
	if err := fx.session.Define(off); err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	stored, _ := fx.session.Stimulation(11)
	if stored.Selected() {
		t.Error("StartAll changed the selected flag")
	}
	if fx.session.Running() {
		t.Error("Running() = true with nothing selected")
	}
	if fx.session.Active(11) {
		t.Error("deselected velec reported active")
	}
}

func TestSessionTransportErrorLeavesState(t *testing.T) {
	tests := []struct {
		name   string
		failOn string
		op     func(s *Session) error
	}{
		{"define", "velec", func(s *Session) error {
			stim, _ := NewStimulation(13, "new", 1, 100, []int{1}, 0, true)
			return s.Define(stim)
		}},
		{"deselect", "velec", func(s *Session) error { return s.Deselect(11) }},
		{"stop all", "stim", func(s *Session) error { return s.StopAll() }},
		{"frequency", "freq", func(s *Session) error { return s.SetFrequency(120) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := openFixture(t, SessionConfig{})
			if err := fx.session.Define(testStimulation(t)); err != nil {
				t.Fatalf("Define failed: %v", err)
			}
			if err := fx.session.StartAll(); err != nil {
				t.Fatalf("StartAll failed: %v", err)
			}
			fx.transport.failOn = tt.failOn

			err := tt.op(fx.session)
			var te *TransportError
			if !errors.As(err, &te) || !errors.Is(err, ErrTransport) {
				t.Fatalf("error = %v, want TransportError", err)
			}
			if te.Op != "write" {
				t.Errorf("Op = %q, want write", te.Op)
			}

			if _, ok := fx.session.Stimulation(13); ok {
				t.Error("failed define registered the stimulation")
			}
			stored, _ := fx.session.Stimulation(11)
			if !stored.Selected() || !fx.session.Running() || !fx.session.Active(11) {
				t.Error("failed command changed selection state")
			}
			if fx.session.Frequency() != DefaultFrequency {
				t.Errorf("Frequency() = %d, want %d", fx.session.Frequency(), DefaultFrequency)
			}
			if fx.session.State() != StateReady {
				t.Errorf("State() = %s, want ready", fx.session.State())
			}
			recs := fx.session.Log().Records()
			if !recs[len(recs)-1].Failed() {
				t.Error("failed command not logged as failed")
			}
		})
	}
}

func TestSessionVerboseReadsResponses(t *testing.T) {
	fx := openFixture(t, SessionConfig{Verbose: true})
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	recs := fx.session.Log().Last(1)
	if recs[0].Response != "ok" {
		t.Errorf("Response = %q, want ok", recs[0].Response)
	}

	fx.transport.readErr = errors.New("timeout")
	err := fx.session.StopAll()
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "read" {
		t.Fatalf("StopAll() error = %v, want read TransportError", err)
	}
}

func TestSessionQuietSkipsResponses(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	fx.transport.readErr = errors.New("should not be read")
	if err := fx.session.StartAll(); err != nil {
		t.Errorf("StartAll() failed: %v", err)
	}
}

func TestSessionEvents(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	a := testStimulation(t)
	b, _ := NewStimulation(12, "other", 1, 100, []int{5}, 0, true)

	if err := fx.session.Define(a); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if len(fx.events) != 0 {
		t.Fatalf("events before stim on = %v", fx.events)
	}
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := fx.session.SubmitDirect(b); err != nil {
		t.Fatalf("SubmitDirect failed: %v", err)
	}
	if err := fx.session.Deselect(11); err != nil {
		t.Fatalf("Deselect failed: %v", err)
	}
	if err := fx.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := []struct {
		kind EventKind
		id   int
		name string
	}{
		{EventStimStarted, 11, "test"},
		{EventStimStarted, 12, "other"},
		{EventStimEnded, 11, "test"},
		{EventStimEnded, 12, "other"},
		{EventDisconnected, 0, ""},
	}
	if len(fx.events) != len(want) {
		t.Fatalf("events = %v, want %d", fx.events, len(want))
	}
	for i, w := range want {
		e := fx.events[i]
		if e.Kind != w.kind || e.StimID != w.id || e.Name != w.name {
			t.Errorf("event %d = %v, want %s %d %s", i, e, w.kind, w.id, w.name)
		}
	}
}

func TestSessionSubmitDirect_NotRegistered(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	stim := testStimulation(t)

	if err := fx.session.SubmitDirect(stim); err != nil {
		t.Fatalf("SubmitDirect failed: %v", err)
	}
	if _, ok := fx.session.Stimulation(11); ok {
		t.Error("SubmitDirect registered the stimulation")
	}
	if err := fx.session.Define(stim); err != nil {
		t.Errorf("Define after SubmitDirect failed: %v", err)
	}
}

func TestSessionPlayByName(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	if err := fx.session.PlayByName("wave"); err != nil {
		t.Fatalf("PlayByName failed: %v", err)
	}
	if fx.transport.written[0] != "stim wave" {
		t.Errorf("written = %v", fx.transport.written)
	}
}

func TestSessionClose(t *testing.T) {
	var sink bytes.Buffer
	fx := openFixture(t, SessionConfig{LogSink: &sink})
	fx.session.BeginTick()
	if err := fx.session.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}

	if err := fx.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if last := fx.transport.written[len(fx.transport.written)-1]; last != CmdStimOff {
		t.Errorf("last line = %q, want stim off", last)
	}
	if !fx.transport.closed {
		t.Error("transport not closed")
	}
	if fx.session.State() != StateDisconnected {
		t.Errorf("State() = %s", fx.session.State())
	}

	recs, err := ReadCommandLog(&sink)
	if err != nil {
		t.Fatalf("ReadCommandLog failed: %v", err)
	}
	if len(recs) != fx.session.Log().Len() {
		t.Errorf("flushed %d records, want %d", len(recs), fx.session.Log().Len())
	}
	if recs[len(recs)-2].Tick != 1 {
		t.Errorf("Tick = %d, want 1", recs[len(recs)-2].Tick)
	}

	if err := fx.session.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestSessionClose_BestEffort(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	fx.transport.failOn = "stim"
	fx.transport.closeErr = errors.New("busy")

	err := fx.session.Close()
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Close() error = %v, want ErrTransport", err)
	}
	if fx.session.State() != StateDisconnected || !fx.transport.closed {
		t.Error("Close() should release the transport even if stim off fails")
	}
}

func TestSessionReopenResetsTable(t *testing.T) {
	fx := openFixture(t, SessionConfig{})
	if err := fx.session.Define(testStimulation(t)); err != nil {
		t.Fatalf("Define failed: %v", err)
	}
	if err := fx.session.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	fx.transport.closed = false
	if err := fx.session.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := fx.session.Stimulations(); len(got) != 0 {
		t.Errorf("Stimulations() after reopen = %d entries, want 0", len(got))
	}
}

func TestAfterKeyword(t *testing.T) {
	tests := []struct {
		in, keyword, want string
	}{
		{"battery 87", "battery", "87"},
		{"> firmware v2.3 ", "firmware", "v2.3"},
		{" 42 ", "battery", "42"},
		{"", "hardware", ""},
	}
	for _, tt := range tests {
		if got := afterKeyword(tt.in, tt.keyword); got != tt.want {
			t.Errorf("afterKeyword(%q, %q) = %q, want %q", tt.in, tt.keyword, got, tt.want)
		}
	}
}
