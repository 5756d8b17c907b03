// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate is the terminal host of the re-authentication engine. It
// renders EngineState snapshots, shows alerts and navigation requests,
// collects authenticator codes and maps keys onto engine events.
package gate

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DevendraSumaniya20/biometric/internal/biometric"
	"github.com/DevendraSumaniya20/biometric/internal/clock"
	"github.com/DevendraSumaniya20/biometric/internal/config"
	"github.com/DevendraSumaniya20/biometric/internal/lifecycle"
	"github.com/DevendraSumaniya20/biometric/internal/reauth"
	"github.com/DevendraSumaniya20/biometric/internal/ui/components"
)

// maxEvents bounds the security event list shown under the main panel.
const maxEvents = 5

// =============================================================================
// FEED
// =============================================================================

// Feed carries runner updates to the UI goroutine. Publish is passed to
// reauth.WithHost; it blocks while the buffer is full and returns
// immediately once the feed is closed, so a stopped UI never stalls the
// runner.
type Feed struct {
	ch   chan reauth.Update
	done chan struct{}
	once sync.Once
}

// NewFeed creates a feed with the given buffer.
func NewFeed(buffer int) *Feed {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed{
		ch:   make(chan reauth.Update, buffer),
		done: make(chan struct{}),
	}
}

// Publish queues u for the UI.
func (f *Feed) Publish(u reauth.Update) {
	select {
	case f.ch <- u:
	case <-f.done:
	}
}

// Updates is the receiving side.
func (f *Feed) Updates() <-chan reauth.Update { return f.ch }

// Close releases any blocked Publish. Safe to call more than once.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

// =============================================================================
// MESSAGES
// =============================================================================

// updateMsg wraps a runner update.
type updateMsg struct{ update reauth.Update }

// promptMsg is sent when the code source asks for a code.
type promptMsg struct{ prompt biometric.PromptSpec }

// tickMsg refreshes countdowns.
type tickMsg time.Time

// submitErrMsg reports an event the runner refused.
type submitErrMsg struct{ err error }

// =============================================================================
// MODEL
// =============================================================================

// Submitter accepts engine events. *reauth.Runner satisfies it.
type Submitter interface {
	Submit(ev reauth.Event) error
}

// Options wires the model to the engine.
type Options struct {
	Runner Submitter
	Feed   *Feed
	// Codes is the channel source behind the TOTP capability; nil when the
	// capability never prompts.
	Codes *biometric.ChannelSource
	// Lifecycle enables the b/i/f keys; nil disables them.
	Lifecycle *lifecycle.Manual
	Clock     clock.Clock
	Policy    config.SecurityConfig
	Initial   reauth.EngineState
	Log       *zap.Logger
}

type eventLine struct {
	at   time.Time
	text string
}

// Model is the bubbletea model of the re-authentication screen.
type Model struct {
	runner Submitter
	feed   *Feed
	codes  *biometric.ChannelSource
	life   *lifecycle.Manual
	clock  clock.Clock
	policy config.SecurityConfig
	log    *zap.Logger

	keys    KeyMap
	limiter *rate.Limiter

	state  reauth.EngineState
	route  reauth.Route
	alert  *reauth.Alert
	events []eventLine
	err    error

	prompting bool
	prompt    biometric.PromptSpec
	input     textinput.Model
	spinner   components.Spinner
	countdown components.Countdown

	width    int
	quitting bool
}

// New builds the model.
func New(opts Options) Model {
	c := opts.Clock
	if c == nil {
		c = clock.System()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	ti := textinput.New()
	ti.Placeholder = "000000"
	ti.CharLimit = 10
	ti.Width = 12
	ti.EchoMode = textinput.EchoPassword
	ti.EchoCharacter = '*'
	ti.Prompt = "code> "

	keys := DefaultKeyMap()
	if opts.Lifecycle == nil {
		keys.Background.SetEnabled(false)
		keys.Inactive.SetEnabled(false)
		keys.Foreground.SetEnabled(false)
	}

	return Model{
		runner:    opts.Runner,
		feed:      opts.Feed,
		codes:     opts.Codes,
		life:      opts.Lifecycle,
		clock:     c,
		policy:    opts.Policy,
		log:       log.Named("ui"),
		keys:      keys,
		limiter:   rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		state:     opts.Initial,
		route:     reauth.RouteReauth,
		input:     ti,
		spinner:   components.NewSpinner(c.Now),
		countdown: components.NewCountdown(),
		width:     80,
	}
}

// State returns the last snapshot the model has seen.
func (m Model) State() reauth.EngineState { return m.state }

// Route returns the last route requested by the engine.
func (m Model) Route() reauth.Route { return m.route }

// Prompting reports whether the code input is shown.
func (m Model) Prompting() bool { return m.prompting }

// Init starts listening for updates, prompts and the countdown tick.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.waitForPrompt(), tick())
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) waitForUpdate() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	ch := m.feed.Updates()
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return nil
		}
		return updateMsg{update: u}
	}
}

func (m Model) waitForPrompt() tea.Cmd {
	if m.codes == nil {
		return nil
	}
	ch := m.codes.Prompts()
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return promptMsg{prompt: p}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) submit(ev reauth.Event) tea.Cmd {
	if m.runner == nil {
		return nil
	}
	r := m.runner
	return func() tea.Msg {
		if err := r.Submit(ev); err != nil {
			return submitErrMsg{err: err}
		}
		return nil
	}
}

// emit runs off the UI goroutine: the monitor delivers synchronously and the
// runner publishes back into the feed this model drains.
func (m Model) emit(sig lifecycle.Signal) tea.Cmd {
	if m.life == nil {
		return nil
	}
	life := m.life
	return func() tea.Msg {
		life.Emit(sig)
		return nil
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.countdown.SetWidth(msg.Width)
		return m, nil

	case updateMsg:
		cmd := m.applyUpdate(msg.update)
		return m, tea.Batch(cmd, m.waitForUpdate())

	case promptMsg:
		m.prompting = true
		m.prompt = msg.prompt
		m.input.Reset()
		m.spinner.SetMessage("Waiting for code")
		m.spinner.SetDetail(msg.prompt.Subtitle)
		return m, tea.Batch(m.input.Focus(), textinput.Blink, m.waitForPrompt())

	case tickMsg:
		m.refreshCountdown()
		return m, tick()

	case submitErrMsg:
		m.err = msg.err
		m.log.Warn("event rejected", zap.Error(msg.err))
		return m, nil

	case tea.KeyMsg:
		if m.prompting {
			return m.updatePrompt(msg)
		}
		return m.updateKeys(msg)
	}

	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	return m, cmd
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.cancelPrompt()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Authenticate):
		if !m.limiter.AllowN(m.clock.Now(), 1) {
			return m, nil
		}
		m.alert = nil
		return m, m.submit(reauth.StartAuth{})

	case key.Matches(msg, m.keys.UsePassword):
		return m, m.submit(reauth.UsePassword{})

	case key.Matches(msg, m.keys.Background):
		return m, m.emit(lifecycle.Backgrounded)

	case key.Matches(msg, m.keys.Inactive):
		return m, m.emit(lifecycle.Inactive)

	case key.Matches(msg, m.keys.Foreground):
		return m, m.emit(lifecycle.Foregrounded)
	}
	return m, nil
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Submit):
		code := m.input.Value()
		m.closePrompt()
		if m.codes != nil && !m.codes.Answer(code) {
			m.log.Debug("code answered after prompt closed")
		}
		return m, nil

	case key.Matches(msg, m.keys.Cancel):
		m.cancelPrompt()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) closePrompt() {
	m.prompting = false
	m.input.Blur()
	m.input.Reset()
	m.spinner.SetMessage("Verifying")
	m.spinner.SetDetail("")
}

func (m *Model) cancelPrompt() {
	if !m.prompting {
		return
	}
	m.closePrompt()
	if m.codes != nil {
		m.codes.Cancel()
	}
}

// applyUpdate folds a runner update into the model.
func (m *Model) applyUpdate(u reauth.Update) tea.Cmd {
	prev := m.state.Phase
	m.state = u.State
	m.err = u.Err

	for _, a := range u.Actions {
		switch a := a.(type) {
		case reauth.NavigateTo:
			m.route = a.Route
		case reauth.ShowAlert:
			alert := a.Alert
			m.alert = &alert
		case reauth.LogSecurityEvent:
			m.events = append(m.events, eventLine{at: a.At, text: a.Event})
			if len(m.events) > maxEvents {
				m.events = m.events[len(m.events)-maxEvents:]
			}
		}
	}

	var cmd tea.Cmd
	if m.state.Phase == reauth.Authenticating && prev != reauth.Authenticating {
		m.spinner.SetMessage("Authenticating")
		m.spinner.SetDetail("")
		cmd = m.spinner.Start()
	}
	if m.state.Phase != reauth.Authenticating {
		m.spinner.Stop()
		// A timed-out or cancelled attempt leaves no prompt to answer.
		if m.prompting {
			m.closePrompt()
		}
	}
	if m.state.Phase == reauth.Ready && prev != reauth.Ready {
		m.route = reauth.RouteReauth
	}

	m.refreshCountdown()
	return cmd
}
