package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/EasyDarwin/StreamStudio/log"
	"github.com/EasyDarwin/StreamStudio/models"
	"github.com/EasyDarwin/StreamStudio/studio"
)

const usageRefresh = 2 * time.Second

var logger = log.NewLogger("tui", log.Component)

// Studio is what the terminal UI drives. *studio.Studio satisfies it.
type Studio interface {
	Snapshot() studio.State
	Subscribe(fn func(studio.State)) func()
	SetCredentials(c models.Credentials)
	ToggleSettings()
	StartStream(ctx context.Context) error
	StopStream(ctx context.Context) error
	TestCredentials(ctx context.Context) error
	DismissEncoderNotice()
}

type Options struct {
	Studio      Studio
	Context     context.Context
	OpenURL     func(url string) error
	DownloadURL string
	// Usage returns the footer line for the backend process.
	Usage func() string
	// Preview returns the preview panel text.
	Preview func() string
}

type (
	stateChangedMsg struct{}
	usageTickMsg    time.Time
	actionDoneMsg   struct{ err error }
)

const (
	fieldClientID = iota
	fieldClientSecret
	fieldStreamKey
	fieldCount
)

type Model struct {
	opts   Options
	keys   KeyMap
	state  studio.State
	inputs [fieldCount]textinput.Model
	focus  int
	usage  string
	busy   bool

	changes     chan struct{}
	unsubscribe func()

	width  int
	height int
}

func New(opts Options) *Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	m := &Model{
		opts:    opts,
		keys:    DefaultKeyMap,
		state:   opts.Studio.Snapshot(),
		changes: make(chan struct{}, 1),
	}

	placeholders := [fieldCount]string{"Client ID", "Client Secret", "Stream Key (optional)"}
	for i := range m.inputs {
		in := textinput.New()
		in.Placeholder = placeholders[i]
		in.Prompt = ""
		in.CharLimit = 128
		if i != fieldClientID {
			in.EchoMode = textinput.EchoPassword
			in.EchoCharacter = '•'
		}
		m.inputs[i] = in
	}
	creds := m.state.Credentials
	m.inputs[fieldClientID].SetValue(creds.ClientID)
	m.inputs[fieldClientSecret].SetValue(creds.ClientSecret)
	m.inputs[fieldStreamKey].SetValue(creds.StreamKey)

	m.unsubscribe = opts.Studio.Subscribe(func(studio.State) {
		select {
		case m.changes <- struct{}{}:
		default:
		}
	})
	return m
}

// Close drops the state subscription.
func (m *Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.changes
		return stateChangedMsg{}
	}
}

func (m *Model) tickUsage() tea.Cmd {
	return tea.Tick(usageRefresh, func(t time.Time) tea.Msg { return usageTickMsg(t) })
}

func (m *Model) Init() tea.Cmd {
	m.refreshUsage()
	return tea.Batch(m.waitForChange(), m.tickUsage())
}

func (m *Model) refreshUsage() {
	if m.opts.Usage != nil {
		m.usage = m.opts.Usage()
	}
}

func (m *Model) run(fn func(ctx context.Context) error) tea.Cmd {
	m.busy = true
	ctx := m.opts.Context
	return func() tea.Msg {
		return actionDoneMsg{err: fn(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case stateChangedMsg:
		m.state = m.opts.Studio.Snapshot()
		return m, m.waitForChange()

	case usageTickMsg:
		m.refreshUsage()
		return m, m.tickUsage()

	case actionDoneMsg:
		m.busy = false
		m.state = m.opts.Studio.Snapshot()
		if msg.err != nil {
			logger.Debugf("action finished: %v", msg.err)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.state.EncoderMissing {
		switch {
		case key.Matches(msg, m.keys.Download):
			m.openURL(m.opts.DownloadURL)
			m.opts.Studio.DismissEncoderNotice()
			m.state = m.opts.Studio.Snapshot()
		case key.Matches(msg, m.keys.Continue):
			m.opts.Studio.DismissEncoderNotice()
			m.state = m.opts.Studio.Snapshot()
		}
		return m, nil
	}

	if m.state.ShowSettings {
		return m.handleSettingsKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Settings):
		m.opts.Studio.ToggleSettings()
		m.state = m.opts.Studio.Snapshot()
		return m, m.inputs[m.focus].Focus()
	case key.Matches(msg, m.keys.DevConsole):
		m.openURL(studio.DeveloperConsoleURL)
		return m, nil
	case key.Matches(msg, m.keys.Stream):
		if m.busy {
			return m, nil
		}
		if m.state.IsStreaming {
			return m, m.run(m.opts.Studio.StopStream)
		}
		return m, m.run(m.opts.Studio.StartStream)
	}
	return m, nil
}

func (m *Model) handleSettingsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Close):
		m.inputs[m.focus].Blur()
		m.opts.Studio.ToggleSettings()
		m.state = m.opts.Studio.Snapshot()
		return m, nil
	case key.Matches(msg, m.keys.Test):
		if m.busy {
			return m, nil
		}
		return m, m.run(m.opts.Studio.TestCredentials)
	case key.Matches(msg, m.keys.NextField):
		return m, m.setFocus((m.focus + 1) % fieldCount)
	case key.Matches(msg, m.keys.PrevField):
		return m, m.setFocus((m.focus + fieldCount - 1) % fieldCount)
	}

	var cmd tea.Cmd
	before := m.inputs[m.focus].Value()
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	if m.inputs[m.focus].Value() != before {
		m.opts.Studio.SetCredentials(m.credentials())
		m.state = m.opts.Studio.Snapshot()
	}
	return m, cmd
}

func (m *Model) setFocus(i int) tea.Cmd {
	m.inputs[m.focus].Blur()
	m.focus = i
	return m.inputs[i].Focus()
}

func (m *Model) credentials() models.Credentials {
	return models.Credentials{
		ClientID:     strings.TrimSpace(m.inputs[fieldClientID].Value()),
		ClientSecret: strings.TrimSpace(m.inputs[fieldClientSecret].Value()),
		StreamKey:    strings.TrimSpace(m.inputs[fieldStreamKey].Value()),
	}
}

func (m *Model) openURL(url string) {
	if m.opts.OpenURL == nil || url == "" {
		return
	}
	if err := m.opts.OpenURL(url); err != nil {
		logger.Warnf("open %s: %v", url, err)
	}
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("13"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)

	boxTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("1")).
			Padding(0, 1)

	actionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("5")).
			Padding(0, 2)

	stopActionStyle = actionStyle.
			Background(lipgloss.Color("1"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(1, 2)

	statusColors = map[string]lipgloss.Color{
		"gray":   lipgloss.Color("8"),
		"yellow": lipgloss.Color("11"),
		"green":  lipgloss.Color("10"),
		"red":    lipgloss.Color("9"),
	}

	logColors = map[models.LogCategory]lipgloss.Color{
		models.Info:    lipgloss.Color("7"),
		models.Success: lipgloss.Color("10"),
		models.Failure: lipgloss.Color("9"),
	}
)

// Badge renders the stream status indicator.
func Badge(st models.StreamStatus) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(statusColors[st.Color()]).
		Render("● " + st.Label())
}

func (m *Model) View() string {
	if m.state.EncoderMissing {
		return m.modalView()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Twitch Stream Studio") + "  " + Badge(m.state.Status) + "\n\n")

	if m.state.Banner != "" {
		b.WriteString(bannerStyle.Render(m.state.Banner) + "\n\n")
	}

	b.WriteString(boxStyle.Render(boxTitleStyle.Render("Preview") + "\n" + m.previewText()))
	b.WriteString("\n")

	if m.state.ShowSettings {
		b.WriteString(m.settingsView())
		b.WriteString("\n")
	}

	label, style := "Start Stream", actionStyle
	if m.state.IsStreaming {
		label, style = "Stop Stream", stopActionStyle
	}
	if m.busy {
		label += "..."
	}
	b.WriteString(style.Render(label) + "\n\n")

	b.WriteString(m.logView())
	b.WriteString("\n")
	b.WriteString(m.footerView())
	return b.String()
}

func (m *Model) previewText() string {
	if m.opts.Preview != nil {
		return m.opts.Preview()
	}
	if m.state.Capture != "" {
		return m.state.Capture
	}
	return "No screen capture active"
}

func (m *Model) settingsView() string {
	labels := [fieldCount]string{"Client ID", "Client Secret", "Stream Key"}
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render("Twitch Settings") + "\n")
	for i := range m.inputs {
		marker := "  "
		if i == m.focus {
			marker = "> "
		}
		fmt.Fprintf(&b, "%s%-14s %s\n", marker, labels[i]+":", m.inputs[i].View())
	}
	b.WriteString(dimStyle.Render("tab next field · ctrl+t test credentials · esc close"))
	return boxStyle.Render(b.String())
}

func (m *Model) logView() string {
	var b strings.Builder
	b.WriteString(boxTitleStyle.Render("Activity Log") + "\n")
	if len(m.state.Logs) == 0 {
		b.WriteString(dimStyle.Render("No activity yet"))
	}
	for i, e := range m.state.Logs {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("%s %s", e.Timestamp.Format("15:04:05"), e.Message)
		b.WriteString(lipgloss.NewStyle().Foreground(logColors[e.Category]).Render(line))
	}
	return boxStyle.Render(b.String())
}

func (m *Model) footerView() string {
	parts := []string{}
	if m.usage != "" {
		parts = append(parts, m.usage)
	}
	if m.state.Backend != nil {
		parts = append(parts, fmt.Sprintf("backend streams: %d", m.state.Backend.ActiveStreams))
	}
	parts = append(parts, "s stream · c settings · d dev console · q quit")
	return dimStyle.Render(strings.Join(parts, " · "))
}

func (m *Model) modalView() string {
	body := boxTitleStyle.Render("FFmpeg Not Found") + "\n\n" +
		"FFmpeg is required for streaming functionality.\n" +
		"Please install FFmpeg to enable streaming.\n\n" +
		actionStyle.Render("[enter] Continue Anyway") + "  " +
		dimStyle.Render("[d] Download FFmpeg")
	return modalStyle.Render(body)
}

// Run starts the terminal UI and blocks until the user quits.
func Run(opts Options) error {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	m := New(opts)
	defer m.Close()
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(opts.Context)).Run()
	if errors.Is(err, tea.ErrProgramKilled) && opts.Context.Err() != nil {
		return nil
	}
	return err
}
