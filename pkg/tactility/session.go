// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tactility

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Transport is a line-oriented link to the stimulator. ReadLine returns
// one response line without its terminator and fails on timeout.
type Transport interface {
	WriteLine(line string) error
	ReadLine() (string, error)
	Close() error
}

// DialFunc opens the transport of a session
type DialFunc func(ctx context.Context) (Transport, error)

// State is the lifecycle state of a session
type State int

const (
	StateDisconnected State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DeviceInfo holds the answers to the handshake queries
type DeviceInfo struct {
	Identity string
	Battery  string
	Hardware string
	Firmware string
}

// SessionConfig configures a session. Zero values select defaults, except
// InitDelay where zero means no delay between handshake steps.
type SessionConfig struct {
	// Verbose reads one response line after every command. Device queries
	// always read their answer.
	Verbose          bool
	InitialFrequency int
	InitDelay        time.Duration

	Logger  *slog.Logger
	OnEvent func(Event)
	// LogSink receives the command log as CBOR when the session closes
	LogSink io.Writer

	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.InitialFrequency == 0 {
		c.InitialFrequency = DefaultFrequency
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
	return c
}

// Session is the device session state machine. It owns the table of
// registered stimulations and the command log. A Session is not safe for
// concurrent use; drive it from one goroutine.
type Session struct {
	cfg       SessionConfig
	logger    *slog.Logger
	dial      DialFunc
	transport Transport
	state     State

	// Registered stimulations, indexed by id-MinVelecID
	table [velecTableSize]*Stimulation

	// What was last confirmed on the wire, indexed by device slot id
	wireSelected [DeviceSlotCount + 1]bool
	wireDef      [velecTableSize]string
	wireName     [velecTableSize]string
	deviceOn     bool
	active       [velecTableSize]bool

	running   bool
	frequency int
	info      DeviceInfo
	tick      uint64

	log   *CommandLog
	stats *Statistics
}

// NewSession creates a disconnected session that opens its transport
// with dial.
func NewSession(dial DialFunc, cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:    cfg,
		logger: cfg.Logger,
		dial:   dial,
		log:    NewCommandLog(),
		stats:  NewStatistics(cfg.Clock()),
	}
}

// Open connects the transport and runs the initialization handshake. A
// dial failure leaves the session disconnected and returns an error
// matching ErrConnectFailed. A failed handshake closes the transport again.
func (s *Session) Open(ctx context.Context) error {
	if s.state != StateDisconnected {
		return fmt.Errorf("session already %s", s.state)
	}

	t, err := s.dial(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnectFailed, err)
		s.logger.Error("failed to open stimulator transport", slog.Any("error", err))
		s.emit(Event{Kind: EventConnectFailed, Err: err})
		return err
	}

	s.transport = t
	s.state = StateInitializing
	s.resetDeviceState()
	s.logger.Info("connected to stimulator")
	s.emit(Event{Kind: EventConnected})

	if err := s.initialize(ctx); err != nil {
		if cerr := t.Close(); cerr != nil {
			s.logger.Warn("failed to close transport", slog.Any("error", cerr))
		}
		s.transport = nil
		s.state = StateDisconnected
		s.emit(Event{Kind: EventDisconnected})
		return fmt.Errorf("stimulator initialization failed: %w", err)
	}

	s.state = StateReady
	s.logger.Info("stimulator initialized",
		slog.String("battery", s.info.Battery),
		slog.String("hardware", s.info.Hardware),
		slog.String("firmware", s.info.Firmware),
		slog.Int("frequency", s.frequency),
	)
	return nil
}

// initialize runs the fixed handshake sequence. Velec slots 1..16 are
// deselected so nothing from a previous session stays active.
func (s *Session) initialize(ctx context.Context) error {
	steps := []func() error{
		func() error {
			resp, err := s.send(CmdIdentify, s.cfg.Verbose)
			s.info.Identity = resp
			return err
		},
		func() error {
			resp, err := s.send(CmdBattery, true)
			s.info.Battery = afterKeyword(resp, keywordBattery)
			return err
		},
		func() error {
			resp, err := s.send(CmdHardware, true)
			s.info.Hardware = afterKeyword(resp, keywordHardware)
			return err
		},
		func() error {
			resp, err := s.send(CmdFirmware, true)
			s.info.Firmware = afterKeyword(resp, keywordFirmware)
			return err
		},
		func() error {
			_, err := s.send(CmdPadsQty, s.cfg.Verbose)
			return err
		},
		func() error {
			return s.setFrequency(s.cfg.InitialFrequency)
		},
		func() error {
			for id := 1; id <= DeviceSlotCount; id++ {
				if _, err := s.send(SelectedCommand(id, false), s.cfg.Verbose); err != nil {
					return err
				}
				s.wireSelected[id] = false
			}
			return nil
		},
	}

	for i, step := range steps {
		if i > 0 {
			if err := s.cfg.Sleep(ctx, s.cfg.InitDelay); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops all stimulation (best effort), releases the transport and
// flushes the command log. Closing a disconnected session is a no-op.
func (s *Session) Close() error {
	if s.state == StateDisconnected {
		return nil
	}

	var errs []error
	if s.state == StateReady {
		if _, err := s.send(CmdStimOff, s.cfg.Verbose); err != nil {
			errs = append(errs, err)
		}
		s.deviceOn = false
		s.running = false
		s.updateActive()
	}
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}
	if s.cfg.LogSink != nil {
		if err := s.log.Flush(s.cfg.LogSink); err != nil {
			errs = append(errs, err)
		}
	}

	s.transport = nil
	s.state = StateDisconnected
	s.logger.Info("disconnected from stimulator", slog.Int("commands", s.log.Len()))
	s.emit(Event{Kind: EventDisconnected})
	return errors.Join(errs...)
}

// Define registers a new stimulation and sends its definition. It fails
// with ErrDuplicateID if the id is already registered.
func (s *Session) Define(stim *Stimulation) error {
	if err := s.ready(); err != nil {
		return err
	}
	slot, err := tableSlot(stim.ID())
	if err != nil {
		return err
	}
	if s.table[slot] != nil {
		return fmt.Errorf("%w: id=%d", ErrDuplicateID, stim.ID())
	}
	return s.define(slot, stim)
}

// Update copies the mutable fields of stim into the registered entry with
// the same id and resends its definition. It fails with
// ErrUnknownStimulation if the id is not registered.
func (s *Session) Update(stim *Stimulation) error {
	if err := s.ready(); err != nil {
		return err
	}
	slot, err := tableSlot(stim.ID())
	if err != nil {
		return err
	}
	if s.table[slot] == nil {
		return fmt.Errorf("%w: id=%d", ErrUnknownStimulation, stim.ID())
	}
	return s.update(slot, stim, true)
}

// Upsert registers stim if its id is unknown, otherwise updates the
// registered entry. An update is only sent when the definition differs
// from what the device last received for that id.
func (s *Session) Upsert(stim *Stimulation) error {
	if err := s.ready(); err != nil {
		return err
	}
	slot, err := tableSlot(stim.ID())
	if err != nil {
		return err
	}
	if s.table[slot] == nil {
		return s.define(slot, stim)
	}
	return s.update(slot, stim, false)
}

func (s *Session) define(slot int, stim *Stimulation) error {
	entry := stim.Clone()
	entry.SetLogger(s.logger)
	if _, err := s.send(entry.Command(), s.cfg.Verbose); err != nil {
		return err
	}
	s.table[slot] = entry
	s.confirmDefinition(entry)
	return nil
}

func (s *Session) update(slot int, stim *Stimulation, force bool) error {
	next := s.table[slot].Clone()
	next.apply(stim)
	command := next.Command()
	if !force && command == s.wireDef[slot] && s.wireSelected[next.ID()] == next.Selected() {
		s.table[slot] = next
		s.logger.Debug("definition unchanged, not resent", slog.Int("id", next.ID()))
		return nil
	}
	if _, err := s.send(command, s.cfg.Verbose); err != nil {
		return err
	}
	s.table[slot] = next
	s.confirmDefinition(next)
	return nil
}

// SubmitDirect sends the definition of stim without registering it
func (s *Session) SubmitDirect(stim *Stimulation) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := tableSlot(stim.ID()); err != nil {
		return err
	}
	if _, err := s.send(stim.Command(), s.cfg.Verbose); err != nil {
		return err
	}
	s.confirmDefinition(stim)
	return nil
}

func (s *Session) confirmDefinition(stim *Stimulation) {
	slot := stim.ID() - MinVelecID
	s.wireDef[slot] = stim.Command()
	s.wireName[slot] = stim.Name()
	s.wireSelected[stim.ID()] = stim.Selected()
	s.updateActive()
}

// Deselect sends "velec <id> *selected 0". A registered entry is marked
// deselected; the id does not need to be registered.
func (s *Session) Deselect(id int) error {
	if err := s.ready(); err != nil {
		return err
	}
	slot, err := tableSlot(id)
	if err != nil {
		return err
	}
	if _, err := s.send(SelectedCommand(id, false), s.cfg.Verbose); err != nil {
		return err
	}
	if entry := s.table[slot]; entry != nil {
		entry.SetSelected(false)
	}
	s.wireSelected[id] = false
	s.recomputeRunning()
	s.updateActive()
	return nil
}

// SetSelected sends "velec <id> *selected <0|1>" for a registered
// stimulation. It fails with ErrUnknownStimulation otherwise.
func (s *Session) SetSelected(id int, selected bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	slot, err := tableSlot(id)
	if err != nil {
		return err
	}
	entry := s.table[slot]
	if entry == nil {
		return fmt.Errorf("%w: id=%d", ErrUnknownStimulation, id)
	}
	if _, err := s.send(SelectedCommand(id, selected), s.cfg.Verbose); err != nil {
		return err
	}
	entry.SetSelected(selected)
	s.wireSelected[id] = selected
	s.recomputeRunning()
	s.updateActive()
	return nil
}

// StartAll sends "stim on". Only velecs already marked selected are
// driven; selected flags are left untouched.
func (s *Session) StartAll() error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.send(CmdStimOn, s.cfg.Verbose); err != nil {
		return err
	}
	s.deviceOn = true
	s.recomputeRunning()
	s.updateActive()
	return nil
}

// StopAll sends "stim off" and clears the selected flag of every
// registered stimulation.
//
// Deprecated: the device cannot resume selectively after a global stop,
// so every stimulation must be redefined before the next StartAll. Use
// Deselect to stop one stimulation.
func (s *Session) StopAll() error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.send(CmdStimOff, s.cfg.Verbose); err != nil {
		return err
	}
	for _, entry := range s.table {
		if entry != nil {
			entry.SetSelected(false)
		}
	}
	// Nothing resumes after a global stop, so no definition counts as sent
	s.wireSelected = [DeviceSlotCount + 1]bool{}
	s.wireDef = [velecTableSize]string{}
	s.deviceOn = false
	s.running = false
	s.updateActive()
	return nil
}

// SetFrequency sends "freq <hz>". The value is not clamped; validate it
// against [MinFrequency, MaxFrequency] first.
func (s *Session) SetFrequency(hz int) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.setFrequency(hz)
}

func (s *Session) setFrequency(hz int) error {
	if _, err := s.send(FrequencyCommand(hz), s.cfg.Verbose); err != nil {
		return err
	}
	s.frequency = hz
	return nil
}

// PlayByName sends the legacy "stim <name>" command. The session does not
// track what it starts.
//
// Deprecated: define the velec with selected=1 and use StartAll.
func (s *Session) PlayByName(name string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.send(PlayCommand(name), s.cfg.Verbose)
	return err
}

// BeginTick advances the tick counter recorded with every command and
// returns the new tick.
func (s *Session) BeginTick() uint64 {
	s.tick++
	return s.tick
}

// State returns the lifecycle state
func (s *Session) State() State { return s.state }

// Initialized reports whether the handshake completed
func (s *Session) Initialized() bool { return s.state == StateReady }

// Running reports whether any registered stimulation is selected, as of
// the last StartAll, Deselect, SetSelected or StopAll.
func (s *Session) Running() bool { return s.running }

// Frequency returns the last frequency sent
func (s *Session) Frequency() int { return s.frequency }

// DeviceInfo returns the handshake answers
func (s *Session) DeviceInfo() DeviceInfo { return s.info }

// Log returns the command log
func (s *Session) Log() *CommandLog { return s.log }

// Statistics returns the command statistics
func (s *Session) Statistics() *Statistics { return s.stats }

// Active reports whether the velec id is currently driven by the device
func (s *Session) Active(id int) bool {
	if !ValidID(id) {
		return false
	}
	return s.active[id-MinVelecID]
}

// Stimulation returns a copy of the registered stimulation with id
func (s *Session) Stimulation(id int) (*Stimulation, bool) {
	if !ValidID(id) || s.table[id-MinVelecID] == nil {
		return nil, false
	}
	return s.table[id-MinVelecID].Clone(), true
}

// Stimulations returns copies of all registered stimulations by id
func (s *Session) Stimulations() []*Stimulation {
	var out []*Stimulation
	for _, entry := range s.table {
		if entry != nil {
			out = append(out, entry.Clone())
		}
	}
	return out
}

func (s *Session) ready() error {
	if s.state != StateReady {
		return fmt.Errorf("%w: session is %s", ErrNotReady, s.state)
	}
	return nil
}

// send writes one command and, if read is set, reads one response line.
// Every command is logged, failed ones included.
func (s *Session) send(command string, read bool) (string, error) {
	start := s.cfg.Clock()
	idx := s.log.begin(command, start, s.tick)

	var response string
	err := s.transport.WriteLine(command)
	if err != nil {
		err = &TransportError{Op: "write", Command: command, Err: err}
	} else if read {
		response, err = s.transport.ReadLine()
		if err != nil {
			err = &TransportError{Op: "read", Command: command, Err: err}
		}
		response = strings.TrimRight(response, "\r\n")
	}

	rtt := s.cfg.Clock().Sub(start)
	s.log.complete(idx, response, rtt, err)
	s.stats.Update(s.log.records[idx])

	if err != nil {
		s.logger.Error("stimulator command failed", slog.String("command", SummarizeCommand(command)), slog.Any("error", err))
		return response, err
	}
	s.logger.Debug("stimulator command",
		slog.Int("seq", int(s.log.records[idx].Seq)),
		slog.String("command", SummarizeCommand(command)),
		slog.String("response", response),
		slog.Duration("rtt", rtt),
	)
	return response, nil
}

func (s *Session) recomputeRunning() {
	s.running = false
	for _, entry := range s.table {
		if entry != nil && entry.Selected() {
			s.running = true
			return
		}
	}
}

// updateActive diffs the set of driven velecs and emits lifecycle events
func (s *Session) updateActive() {
	for slot := range s.active {
		id := slot + MinVelecID
		now := s.deviceOn && s.wireSelected[id]
		if now == s.active[slot] {
			continue
		}
		s.active[slot] = now
		kind := EventStimEnded
		if now {
			kind = EventStimStarted
		}
		s.emit(Event{Kind: kind, StimID: id, Name: s.wireName[slot]})
	}
}

func (s *Session) resetDeviceState() {
	s.table = [velecTableSize]*Stimulation{}
	s.wireSelected = [DeviceSlotCount + 1]bool{}
	s.wireDef = [velecTableSize]string{}
	s.wireName = [velecTableSize]string{}
	s.active = [velecTableSize]bool{}
	s.deviceOn = false
	s.running = false
	s.info = DeviceInfo{}
}

func (s *Session) emit(e Event) {
	if s.cfg.OnEvent == nil {
		return
	}
	e.Time = s.cfg.Clock()
	s.cfg.OnEvent(e)
}

func tableSlot(id int) (int, error) {
	if !ValidID(id) {
		return 0, invalidID(id)
	}
	return id - MinVelecID, nil
}

// afterKeyword returns the text following keyword in a query answer, or
// the trimmed answer if the keyword is missing.
func afterKeyword(response, keyword string) string {
	i := strings.Index(response, keyword)
	if i < 0 {
		return strings.TrimSpace(response)
	}
	return strings.TrimSpace(response[i+len(keyword):])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
