// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/tactility/pkg/config"
	"github.com/Thermoquad/tactility/pkg/tactility"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	controlTickInterval = 10 * time.Millisecond
	maxLogEntries       = 100
	visibleLogEntries   = 6
	visibleCommands     = 8

	intensityStep   float32 = 0.5 // mA
	pulseWidthStep          = 10  // µs
	patternFreqStep         = 0.5 // Hz
	minPatternFreq          = 0.5 // Hz
)

// Focus states
const (
	focusPatternList = iota
	focusFreqInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// patternItem is one configured pattern in the list
type patternItem struct {
	entry config.PatternEntry
}

// Implement list.Item interface
func (p patternItem) Title() string { return p.entry.Name }
func (p patternItem) Description() string {
	desc := fmt.Sprintf("%d steps, %.2g Hz", len(p.entry.Steps), p.entry.Frequency)
	if p.entry.Gaps {
		desc += ", gaps"
	}
	return desc
}
func (p patternItem) FilterValue() string { return p.entry.Name }

// logEntry is one line of the event log
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// controlKeyMap holds the key bindings of the control panel
type controlKeyMap struct {
	Play          key.Binding
	Reset         key.Binding
	Select        key.Binding
	IntensityUp   key.Binding
	IntensityDown key.Binding
	WidthUp       key.Binding
	WidthDown     key.Binding
	FreqUp        key.Binding
	FreqDown      key.Binding
	Crossfade     key.Binding
	Frequency     key.Binding
	Stop          key.Binding
	Quit          key.Binding
}

func newControlKeyMap() controlKeyMap {
	return controlKeyMap{
		Play:          key.NewBinding(key.WithKeys(" ", "p"), key.WithHelp("space", "play/stop")),
		Reset:         key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		Select:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "load pattern")),
		IntensityUp:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "intensity up")),
		IntensityDown: key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "intensity down")),
		WidthUp:       key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "width up")),
		WidthDown:     key.NewBinding(key.WithKeys("["), key.WithHelp("[", "width down")),
		FreqUp:        key.NewBinding(key.WithKeys("."), key.WithHelp(".", "pattern faster")),
		FreqDown:      key.NewBinding(key.WithKeys(","), key.WithHelp(",", "pattern slower")),
		Crossfade:     key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "crossfade")),
		Frequency:     key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "device freq")),
		Stop:          key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stim off")),
		Quit:          key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap
func (k controlKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Reset, k.Select, k.Stop, k.Quit}
}

// FullHelp implements help.KeyMap
func (k controlKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Reset, k.Select, k.Stop},
		{k.IntensityUp, k.IntensityDown, k.WidthUp, k.WidthDown},
		{k.FreqUp, k.FreqDown, k.Crossfade, k.Frequency},
		{k.Quit},
	}
}

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	ctl *controller

	keys         controlKeyMap
	help         help.Model
	patternList  list.Model
	freqInput    textinput.Model
	focusedField int

	// Playback
	seq         *tactility.Sequencer
	patternName string
	intensity   float32
	pulseWidth  int
	crossfade   bool

	eventLog []logEntry

	// UI state
	width          int
	height         int
	quitting       bool
	connecting     bool
	connectionLost bool
	backoff        time.Duration
	lastTick       time.Time
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialControlModel(ctl *controller) controlModel {
	ti := textinput.New()
	ti.Placeholder = strconv.Itoa(cfg.Session.InitialFrequency)
	ti.CharLimit = 3
	ti.Width = 5

	items := make([]list.Item, len(cfg.Patterns))
	for i, p := range cfg.Patterns {
		items[i] = patternItem{entry: p}
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	patternList := list.New(items, delegate, 30, 10)
	patternList.Title = "Patterns"
	patternList.SetShowStatusBar(false)
	patternList.SetShowHelp(false)
	patternList.SetFilteringEnabled(false)

	return controlModel{
		ctl:          ctl,
		keys:         newControlKeyMap(),
		help:         help.New(),
		patternList:  patternList,
		freqInput:    ti,
		focusedField: focusPatternList,
		intensity:    cfg.Stimulation.Intensity,
		pulseWidth:   cfg.Stimulation.PulseWidth,
		width:        80,
		height:       24,
		connecting:   true,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(m.ctl.connectCmd(), controlTickCmd())
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(controlTickInterval, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.updateListSize()

	case controlTickMsg:
		now := time.Time(msg)
		m.drainEvents()
		var cmd tea.Cmd
		if m.ready() && m.seq != nil && !m.lastTick.IsZero() {
			m.ctl.session.BeginTick()
			delta := float64(now.Sub(m.lastTick)) / float64(time.Millisecond)
			cmd = m.handleErr("pattern step", m.seq.Advance(delta))
			m.ctl.session.Statistics().CalculateRates(now)
		}
		m.lastTick = now
		return m, tea.Batch(cmd, controlTickCmd())

	case connectResultMsg:
		m.connecting = false
		m.drainEvents()
		if msg.err != nil {
			m.connectionLost = true
			m.backoff = nextBackoff(m.backoff)
			m.addLogEntry(fmt.Sprintf("Connect failed: %v (retry in %v)", msg.err, m.backoff), true)
			return m, reconnectCmd(m.backoff)
		}
		m.connectionLost = false
		m.backoff = 0
		info := m.ctl.session.DeviceInfo()
		m.addLogEntry(fmt.Sprintf("Connected: battery %s, hardware %s, firmware %s", info.Battery, info.Hardware, info.Firmware), false)
		name := m.patternName
		if name == "" {
			name = m.selectedPatternName()
		}
		return m, m.loadPattern(name)

	case reconnectMsg:
		m.connecting = true
		m.addLogEntry("Reconnecting...", false)
		return m, m.ctl.connectCmd()
	}

	return m, nil
}

//////////////////////////////////////////////////////////////
// Input Handling
//////////////////////////////////////////////////////////////

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.focusedField == focusFreqInput {
		return m.handleFreqInput(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		if m.ready() && m.seq != nil && m.seq.Playing() {
			m.seq.Toggle()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Select):
		if item, ok := m.patternList.SelectedItem().(patternItem); ok && m.ready() {
			return m, m.loadPattern(item.entry.Name)
		}
		return m, nil

	case key.Matches(msg, m.keys.Frequency):
		m.focusedField = focusFreqInput
		m.freqInput.SetValue("")
		return m, m.freqInput.Focus()
	}

	if cmd, handled := m.handlePlaybackKey(msg); handled {
		return m, cmd
	}

	var cmd tea.Cmd
	m.patternList, cmd = m.patternList.Update(msg)
	return m, cmd
}

// handlePlaybackKey runs the keys that drive the sequencer
func (m *controlModel) handlePlaybackKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	var (
		op  string
		err error
	)
	switch {
	case key.Matches(msg, m.keys.Play):
		op = "play/stop"
		if m.guard() {
			err = m.seq.Toggle()
		}

	case key.Matches(msg, m.keys.Reset):
		op = "reset"
		if m.guard() {
			err = m.seq.Reset()
		}

	case key.Matches(msg, m.keys.IntensityUp), key.Matches(msg, m.keys.IntensityDown):
		op = "intensity"
		delta := intensityStep
		if key.Matches(msg, m.keys.IntensityDown) {
			delta = -delta
		}
		m.intensity, _ = tactility.ClampIntensity(m.intensity + delta)
		if m.guard() {
			err = m.seq.SetStimParams(m.intensity, m.pulseWidth)
		}

	case key.Matches(msg, m.keys.WidthUp), key.Matches(msg, m.keys.WidthDown):
		op = "pulse width"
		delta := pulseWidthStep
		if key.Matches(msg, m.keys.WidthDown) {
			delta = -delta
		}
		m.pulseWidth, _ = tactility.ClampPulseWidth(m.pulseWidth + delta)
		if m.guard() {
			err = m.seq.SetStimParams(m.intensity, m.pulseWidth)
		}

	case key.Matches(msg, m.keys.FreqUp), key.Matches(msg, m.keys.FreqDown):
		op = "pattern frequency"
		if m.guard() {
			t := m.seq.Timing()
			if key.Matches(msg, m.keys.FreqUp) {
				t.Frequency += patternFreqStep
			} else {
				t.Frequency = max(t.Frequency-patternFreqStep, minPatternFreq)
			}
			err = m.seq.SetTiming(t)
		}

	case key.Matches(msg, m.keys.Crossfade):
		m.crossfade = !m.crossfade
		if m.seq != nil {
			m.seq.SetCrossfade(m.crossfade)
		}
		return nil, true

	case key.Matches(msg, m.keys.Stop):
		op = "stim off"
		if m.guard() {
			err = m.emergencyStop()
		}

	default:
		return nil, false
	}
	return m.handleErr(op, err), true
}

func (m controlModel) handleFreqInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.focusedField = focusPatternList
		m.freqInput.Blur()
		return m, nil

	case "enter":
		m.focusedField = focusPatternList
		m.freqInput.Blur()
		hz, err := strconv.Atoi(strings.TrimSpace(m.freqInput.Value()))
		if err != nil {
			m.addLogEntry(fmt.Sprintf("Invalid frequency %q", m.freqInput.Value()), true)
			return m, nil
		}
		if clamped, changed := tactility.ClampFrequency(hz); changed {
			m.addLogEntry(fmt.Sprintf("Frequency %d Hz out of range, using %d Hz", hz, clamped), true)
			hz = clamped
		}
		if !m.ready() {
			m.addLogEntry("Cannot send command: not connected", true)
			return m, nil
		}
		return m, m.handleErr("frequency", m.ctl.session.SetFrequency(hz))
	}

	var cmd tea.Cmd
	m.freqInput, cmd = m.freqInput.Update(msg)
	return m, cmd
}

//////////////////////////////////////////////////////////////
// Actions
//////////////////////////////////////////////////////////////

// ready reports whether the session may be used from Update
func (m *controlModel) ready() bool {
	return !m.connecting && !m.connectionLost && m.ctl.session.Initialized()
}

// guard reports whether a playback command can be sent, logging why not
func (m *controlModel) guard() bool {
	if !m.ready() {
		m.addLogEntry("Cannot send command: not connected", true)
		return false
	}
	if m.seq == nil {
		m.addLogEntry("No pattern loaded", true)
		return false
	}
	return true
}

// loadPattern builds a sequencer for the named pattern, stopping the
// current one first.
func (m *controlModel) loadPattern(name string) tea.Cmd {
	if m.seq != nil && m.seq.Playing() {
		if cmd := m.handleErr("stop", m.seq.Toggle()); cmd != nil {
			return cmd
		}
	}

	steps, sc, err := loadSteps(name, m.intensity, m.pulseWidth)
	if err != nil {
		m.addLogEntry(err.Error(), true)
		return nil
	}
	seq, err := tactility.NewSequencer(m.ctl.session.Session, steps, sc)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Pattern %s: %v", name, err), true)
		return nil
	}
	m.seq = seq
	m.patternName = name
	m.crossfade = sc.Crossfade
	m.addLogEntry(fmt.Sprintf("Loaded pattern %s (%d steps)", name, seq.Steps()), false)
	return nil
}

// emergencyStop stops playback and switches the device off
func (m *controlModel) emergencyStop() error {
	var err error
	if m.seq.Playing() {
		err = m.seq.Toggle()
	}
	// Every velec is redefined by the next play, so a global stop is safe here
	return errors.Join(err, m.ctl.session.StopAll())
}

// handleErr logs err. A transport error closes the session and schedules
// a reconnect.
func (m *controlModel) handleErr(op string, err error) tea.Cmd {
	if err == nil {
		return nil
	}
	m.addLogEntry(fmt.Sprintf("%s: %v", op, err), true)
	if !errors.Is(err, tactility.ErrTransport) {
		return nil
	}

	m.ctl.session.Session.Close()
	m.drainEvents()
	m.seq = nil
	m.connectionLost = true
	m.backoff = nextBackoff(m.backoff)
	m.addLogEntry(fmt.Sprintf("Connection lost - reconnecting in %v", m.backoff), true)
	return reconnectCmd(m.backoff)
}

func (m *controlModel) drainEvents() {
	for _, e := range m.ctl.events.drain() {
		m.addLogEntry(e.String(), e.Err != nil)
	}
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}

func (m *controlModel) selectedPatternName() string {
	if item, ok := m.patternList.SelectedItem().(patternItem); ok {
		return item.entry.Name
	}
	return cfg.Patterns[0].Name
}

func (m *controlModel) updateListSize() {
	listHeight := m.height / 3
	if listHeight < 5 {
		listHeight = 5
	}
	m.patternList.SetSize(28, listHeight)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

// controlStyles holds the lipgloss styles of the panel
type controlStyles struct {
	title, header, label, value, err, warning, box, focusedBox lipgloss.Style
}

func newControlStyles() controlStyles {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	return controlStyles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		value:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		err:        lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		warning:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		box:        box,
		focusedBox: box.BorderForeground(lipgloss.Color("12")),
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := newControlStyles()
	var s strings.Builder

	// Header
	s.WriteString(st.title.Render("TACTILITY CONTROL"))
	s.WriteString(" ")
	status := m.ctl.connInfo
	switch {
	case m.connecting:
		status = st.warning.Render("CONNECTING...")
	case m.connectionLost:
		status = st.warning.Render("RECONNECTING...")
	}
	s.WriteString(st.header.Render(fmt.Sprintf("| %s", status)))
	s.WriteString("\n\n")

	// The connect command owns the session until it reports back
	if m.connecting {
		s.WriteString(st.warning.Render(fmt.Sprintf("Running handshake on %s...", m.ctl.connInfo)))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog(st))
		s.WriteString("\n")
		s.WriteString(m.help.View(m.keys))
		return s.String()
	}

	// Pattern list and playback panel
	leftWidth := 32
	rightWidth := m.width - leftWidth - 7
	if rightWidth < 30 {
		rightWidth = 30
	}
	listStyle := st.focusedBox
	if m.focusedField != focusPatternList {
		listStyle = st.box
	}
	left := listStyle.Width(leftWidth).Render(m.patternList.View())
	right := st.box.Width(rightWidth).Render(m.renderPlaybackPanel(st))
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right))
	s.WriteString("\n")

	s.WriteString(m.renderStatisticsBar(st))
	s.WriteString("\n")
	s.WriteString(m.renderCommandLog(st))
	s.WriteString("\n")
	s.WriteString(m.renderEventLog(st))
	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderPlaybackPanel(st controlStyles) string {
	var s strings.Builder
	row := func(label, value string) {
		s.WriteString(fmt.Sprintf("%s %s\n", st.label.Render(label), st.value.Render(value)))
	}

	if m.seq == nil {
		s.WriteString(st.header.Render("No pattern loaded"))
		s.WriteString("\n")
	} else {
		state := "STOPPED"
		if m.seq.Playing() {
			state = "PLAYING"
		}
		durations := m.seq.Durations()
		index := m.seq.Index()
		t := m.seq.Timing()

		row("Pattern:", m.patternName)
		row("State:", state)
		row("Slot:", fmt.Sprintf("%d/%d %s %.1f/%.1f ms", index+1, len(durations), m.seq.SlotKind(index), m.seq.Elapsed(), durations[index]))
		row("Pattern freq:", fmt.Sprintf("%.2f Hz", t.Frequency))
		crossfade := "off"
		if m.crossfade {
			crossfade = fmt.Sprintf("on (%.1f ms)", m.seq.TurnOffDelay())
		}
		row("Crossfade:", crossfade)
	}

	row("Intensity:", fmt.Sprintf("%.1f mA", m.intensity))
	row("Pulse width:", fmt.Sprintf("%d us", m.pulseWidth))

	s.WriteString(st.label.Render("Device freq: "))
	if m.focusedField == focusFreqInput {
		s.WriteString(m.freqInput.View())
		s.WriteString(st.header.Render(" (enter=apply esc=cancel)"))
	} else {
		s.WriteString(st.value.Render(fmt.Sprintf("%d Hz", m.ctl.session.Frequency())))
	}
	s.WriteString("\n")

	var active []string
	for _, stim := range m.ctl.session.Stimulations() {
		if m.ctl.session.Active(stim.ID()) {
			active = append(active, fmt.Sprintf("%d %s", stim.ID(), stim.Name()))
		}
	}
	if len(active) == 0 {
		active = append(active, "-")
	}
	row("Active:", strings.Join(active, ", "))
	return strings.TrimRight(s.String(), "\n")
}

func (m controlModel) renderStatisticsBar(st controlStyles) string {
	stats := m.ctl.session.Statistics()

	errCount := st.value.Render("0")
	if stats.TransportErrors > 0 {
		errCount = st.err.Render(strconv.FormatUint(stats.TransportErrors, 10))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		st.label.Render("Commands:"), st.value.Render(strconv.FormatUint(stats.TotalCommands, 10)),
		st.label.Render("Responses:"), st.value.Render(strconv.FormatUint(stats.Responses, 10)),
		st.label.Render("Errors:"), errCount,
		st.label.Render("Rate:"), st.value.Render(fmt.Sprintf("%.1f cmd/s", stats.CommandRate)),
		st.label.Render("RTT:"), st.value.Render(stats.AverageRoundTrip().Round(time.Microsecond).String()),
	)

	return st.box.Width(m.width - 4).Render(content)
}

func (m controlModel) renderCommandLog(st controlStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("COMMANDS"))
	s.WriteString("\n")

	records := m.ctl.session.Log().Last(visibleCommands)
	if len(records) == 0 {
		s.WriteString(st.header.Render("  (no commands yet)"))
	}
	for _, r := range records {
		line := strings.TrimRight(tactility.FormatRecord(r), "\n")
		if r.Failed() {
			line = st.err.Render(line)
		}
		s.WriteString(line)
		s.WriteString("\n")
	}

	return st.box.Width(m.width - 4).Render(strings.TrimRight(s.String(), "\n"))
}

func (m controlModel) renderEventLog(st controlStyles) string {
	var s strings.Builder
	s.WriteString(st.label.Render("EVENTS"))
	s.WriteString("\n")

	startIdx := len(m.eventLog) - visibleLogEntries
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		s.WriteString(st.header.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[startIdx:] {
		icon := "i"
		style := st.warning
		if entry.isError {
			icon = "x"
			style = st.err
		}
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			st.header.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message))
	}

	return st.box.Width(m.width - 4).Render(strings.TrimRight(s.String(), "\n"))
}
