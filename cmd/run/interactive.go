package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-ffi/marshal"
	"github.com/wippyai/wasm-ffi/object"
	"github.com/wippyai/wasm-ffi/resource"
)

const maxEvents = 8

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Call    key.Binding
	Foreign key.Binding
	Host    key.Binding
	Release key.Binding
	Auto    key.Binding
	Pin     key.Binding
	Collect key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Call, k.Foreign, k.Host, k.Release, k.Auto, k.Pin, k.Collect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Call}, {k.Foreign, k.Host, k.Release, k.Auto, k.Pin}, {k.Collect, k.Quit}}
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Call:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "call")),
	Foreign: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new foreign")),
	Host:    key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "new host")),
	Release: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "release last")),
	Auto:    key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto-release last")),
	Pin:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pin/unpin last")),
	Collect: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "collect")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateInputArgs
	stateInputType
	stateShowResult
)

type interactiveModel struct {
	err      error
	session  *session
	events   chan resource.Event
	cancel   func()
	opts     options
	result   string
	funcs    []*marshal.Function
	objs     []object.External
	log      []resource.Event
	inputs   []textinput.Model
	help     help.Model
	selected int
	focusIdx int
	state    modelState
	hostObj  bool
}

func newInteractiveModel(opts options) *interactiveModel {
	return &interactiveModel{
		opts:   opts,
		state:  stateSelectFunc,
		events: make(chan resource.Event, 64),
		help:   help.New(),
	}
}

type loadedMsg struct {
	err     error
	session *session
}

type resultMsg struct {
	err    error
	obj    object.External // returned by a call, to be listed
	result string
}

type eventMsg resource.Event

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	s, err := open(context.Background(), m.opts)
	return loadedMsg{session: s, err: err}
}

func (m *interactiveModel) waitEvent() tea.Msg {
	return eventMsg(<-m.events)
}

func (m *interactiveModel) close() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.session != nil {
		_ = m.session.Close(context.Background())
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) && (m.state != stateInputArgs && m.state != stateInputType || msg.String() == "ctrl+c") {
			m.close()
			return m, tea.Quit
		}
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.session = msg.session
		m.funcs = msg.session.lib.Engine().Functions()
		m.cancel = msg.session.lib.Subscribe(resource.ObserverFunc(func(e resource.Event) {
			select {
			case m.events <- e:
			default:
			}
		}))
		return m, m.waitEvent

	case eventMsg:
		m.log = append(m.log, resource.Event(msg))
		if len(m.log) > maxEvents {
			m.log = m.log[len(m.log)-maxEvents:]
		}
		return m, m.waitEvent

	case resultMsg:
		m.apply(msg)
	}

	return m, m.updateInputs(msg)
}

func (m *interactiveModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch m.state {
	case stateSelectFunc:
		if m.session == nil {
			return nil, true
		}
		switch {
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.funcs)-1 {
				m.selected++
			}
		case key.Matches(msg, keys.Call):
			if len(m.funcs) == 0 {
				return nil, true
			}
			m.prepareArgInputs()
			if len(m.inputs) == 0 {
				return m.callFunction(), true
			}
			m.state = stateInputArgs
		case key.Matches(msg, keys.Foreign), key.Matches(msg, keys.Host):
			m.hostObj = key.Matches(msg, keys.Host)
			m.prepareTypeInput()
			m.state = stateInputType
		case key.Matches(msg, keys.Release):
			m.apply(m.releaseLast())
		case key.Matches(msg, keys.Auto):
			m.apply(m.autoReleaseLast())
		case key.Matches(msg, keys.Pin):
			m.apply(m.togglePinLast())
		case key.Matches(msg, keys.Collect):
			return m.collect, true
		}
		return nil, true

	case stateInputArgs, stateInputType:
		switch msg.String() {
		case "enter":
			if m.state == stateInputType {
				m.apply(m.allocate())
				return nil, true
			}
			return m.callFunction(), true
		case "tab":
			if len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}
			return nil, true
		case "esc":
			m.state = stateSelectFunc
			m.inputs = nil
			return nil, true
		}

	case stateShowResult:
		switch msg.String() {
		case "enter", "esc":
			m.state = stateSelectFunc
			m.result = ""
			m.err = nil
			m.inputs = nil
		}
		return nil, true
	}
	return nil, false
}

func (m *interactiveModel) updateInputs(msg tea.Msg) tea.Cmd {
	if m.state != stateInputArgs && m.state != stateInputType {
		return nil
	}
	cmds := make([]tea.Cmd, 0, len(m.inputs))
	for i := range m.inputs {
		var cmd tea.Cmd
		m.inputs[i], cmd = m.inputs[i].Update(msg)
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

func (m *interactiveModel) prepareArgInputs() {
	sig := m.funcs[m.selected].Signature()
	m.inputs = make([]textinput.Model, len(sig.Params))
	for i, p := range sig.Params {
		ti := textinput.New()
		ti.Placeholder = p.Type.String()
		if p.Type.External() != nil {
			ti.Placeholder += " (#N or address)"
		}
		ti.Prompt = p.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) prepareTypeInput() {
	ti := textinput.New()
	ti.Placeholder = "type name"
	ti.Prompt = "allocate: "
	ti.Width = 40
	ti.Focus()
	m.inputs = []textinput.Model{ti}
	m.focusIdx = 0
}

// callFunction parses the entered arguments and returns the call as a
// command, so a slow foreign call does not block the UI.
func (m *interactiveModel) callFunction() tea.Cmd {
	fn := m.funcs[m.selected]
	raw := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		raw[i] = input.Value()
	}
	args, err := parseArgs(fn.Signature(), raw, m.objs)
	if err != nil {
		m.apply(resultMsg{err: err})
		return nil
	}
	return func() tea.Msg {
		result, err := fn.Call(context.Background(), args...)
		if err != nil {
			return resultMsg{err: err}
		}
		if obj, ok := result.(object.External); ok {
			return resultMsg{obj: obj}
		}
		return resultMsg{result: formatValue(result)}
	}
}

// apply shows a result. A returned object joins the list under its index.
func (m *interactiveModel) apply(msg resultMsg) {
	m.result = msg.result
	m.err = msg.err
	if msg.obj != nil {
		m.objs = append(m.objs, msg.obj)
		m.result = fmt.Sprintf("#%d %s", len(m.objs)-1, formatValue(msg.obj))
	}
	m.state = stateShowResult
}

func (m *interactiveModel) allocate() resultMsg {
	name := strings.TrimSpace(m.inputs[0].Value())
	lib := m.session.lib
	var (
		obj object.External
		err error
	)
	if m.hostObj {
		obj, err = lib.AllocateHost(name)
	} else {
		obj, err = lib.AllocateForeign(name)
	}
	if err != nil {
		return resultMsg{err: err}
	}
	return resultMsg{obj: obj}
}

// last returns the most recent object still held.
func (m *interactiveModel) last() (int, object.External) {
	for i := len(m.objs) - 1; i >= 0; i-- {
		if m.objs[i] != nil {
			return i, m.objs[i]
		}
	}
	return -1, nil
}

func (m *interactiveModel) releaseLast() resultMsg {
	i, obj := m.last()
	if obj == nil {
		return resultMsg{err: fmt.Errorf("no objects")}
	}
	if err := m.session.lib.Release(obj); err != nil {
		return resultMsg{err: err}
	}
	m.objs[i] = nil
	return resultMsg{result: fmt.Sprintf("released #%d", i)}
}

func (m *interactiveModel) autoReleaseLast() resultMsg {
	i, obj := m.last()
	if obj == nil {
		return resultMsg{err: fmt.Errorf("no objects")}
	}
	if err := m.session.lib.AutoRelease(obj); err != nil {
		return resultMsg{err: err}
	}
	m.objs[i] = nil
	return resultMsg{result: fmt.Sprintf("#%d handed to the collector; press g to collect", i)}
}

func (m *interactiveModel) togglePinLast() resultMsg {
	i, obj := m.last()
	if obj == nil {
		return resultMsg{err: fmt.Errorf("no objects")}
	}
	lib := m.session.lib
	if lib.Manager().IsPinned(obj) {
		lib.Unpin(obj)
		return resultMsg{result: fmt.Sprintf("unpinned #%d", i)}
	}
	if !lib.Pin(obj) {
		return resultMsg{result: fmt.Sprintf("#%d is %s-heap storage and never moves", i, obj.Origin())}
	}
	return resultMsg{result: fmt.Sprintf("pinned #%d at %s", i, obj.Handle())}
}

func (m *interactiveModel) collect() tea.Msg {
	st, err := m.session.lib.Collect(context.Background())
	if err != nil {
		return resultMsg{err: err}
	}
	return resultMsg{result: fmt.Sprintf("finalized %d, collected %d, relocated %d", st.Finalized, st.Collected, st.Relocated)}
}

func (m *interactiveModel) View() string {
	if m.session == nil {
		if m.err != nil {
			return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
		}
		return "Loading library..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("FFI Inspector"))
	b.WriteString(" ")
	b.WriteString(m.session.name)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			paneStyle.Render(m.viewFuncs()),
			paneStyle.Render(m.viewObjects()),
		))
		b.WriteString("\n")
		b.WriteString(paneStyle.Render(m.viewEvents()))
		b.WriteString("\n")
		b.WriteString(m.help.View(keys))

	case stateInputArgs:
		sig := m.funcs[m.selected].Signature()
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(sig.String())))
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("tab next field • enter call • esc back"))

	case stateInputType:
		where := "foreign heap"
		if m.hostObj {
			where = "host space"
		}
		b.WriteString(fmt.Sprintf("Allocate in the %s\n\n", where))
		b.WriteString(m.inputs[0].View())
		b.WriteString("\n\n")
		b.WriteString(typeStyle.Render(strings.Join(m.session.lib.Registry().Names(), " ")))
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("enter allocate • esc back"))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(dimStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) viewFuncs() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Functions"))
	b.WriteString("\n")
	if len(m.funcs) == 0 {
		b.WriteString(dimStyle.Render("none bound"))
	}
	for i, fn := range m.funcs {
		line := fn.Signature().String()
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + funcStyle.Render(line))
		}
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m *interactiveModel) viewObjects() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Objects"))
	b.WriteString("\n")
	held := 0
	for i, obj := range m.objs {
		if obj == nil {
			continue
		}
		held++
		flags := obj.Origin().String()
		if obj.IsPinned() {
			flags += ", pinned"
		}
		fmt.Fprintf(&b, "#%d %s %s\n", i, formatValue(obj), dimStyle.Render("("+flags+")"))
	}
	if held == 0 {
		b.WriteString(dimStyle.Render("none"))
		b.WriteString("\n")
	}

	st := m.session.lib.Stats()
	fmt.Fprintf(&b, "\nforeign %d • auto %d • pinned %d • released %d • finalized %d",
		st.Foreign, st.AutoRelease, st.Pinned, st.Released, st.Finalized)
	if st.HasSpace {
		fmt.Fprintf(&b, "\nhost space %d/%d bytes, %d live, %d moves",
			st.Host.Used, st.Host.Limit-st.Host.Base, st.Host.Live, st.Host.Relocations)
	}
	return b.String()
}

func (m *interactiveModel) viewEvents() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Events"))
	if len(m.log) == 0 {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("none yet"))
	}
	for _, e := range m.log {
		b.WriteString("\n")
		b.WriteString(e.String())
	}
	return b.String()
}

func runInteractive(opts options) error {
	p := tea.NewProgram(newInteractiveModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
