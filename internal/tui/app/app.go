package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ralmosara/NetSuiteClone-sub003/internal/client"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/theme"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/views/feed"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/views/inbox"
	"github.com/ralmosara/NetSuiteClone-sub003/internal/tui/views/status"
)

// Source is the subset of *client.Hook the TUI drives.
type Source interface {
	Identity() string
	IsConnected() bool
	Transport() string
	Notifications() []client.Notification
	MarkAsRead(id string) bool
	ClearNotifications()
	JoinOrder(orderID string) error
	LeaveOrder(orderID string) error
	Orders() []string
	Subscribe(event string, cb client.Callback) func()
	OnConnectionChange(fn client.ConnectionCallback) func()
}

// Prompt identifies which input prompt is active.
type Prompt int

const (
	PromptNone Prompt = iota
	PromptJoin
	PromptLeave
)

const (
	inboxBuffer  = 256
	refreshEvery = time.Second
)

// Messages bridged from Hook callbacks into the Bubble Tea loop.
type (
	eventMsg struct{ msg client.Message }
	connMsg  struct {
		connected bool
		transport string
	}
	orderResultMsg struct {
		orderID string
		join    bool
		err     error
	}
	tickMsg time.Time
)

// Model is the root Bubble Tea model.
type Model struct {
	src    Source
	ctx    context.Context
	cancel context.CancelFunc
	events chan tea.Msg
	unsubs []func()

	keys   KeyMap
	width  int
	height int

	prompt Prompt
	input  textinput.Model

	statusBar status.Model
	inbox     inbox.Model
	feed      feed.Model
}

// New creates the root model and subscribes it to src.
func New(src Source) Model {
	ctx, cancel := context.WithCancel(context.Background())

	ti := textinput.New()
	ti.Placeholder = "order id"
	ti.CharLimit = 64

	m := Model{
		src:       src,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan tea.Msg, inboxBuffer),
		keys:      DefaultKeyMap(),
		input:     ti,
		statusBar: status.New(),
		inbox:     inbox.New(),
		feed:      feed.New(),
	}

	for _, ev := range []string{client.EventNotification, client.EventOrderUpdate, client.EventInventoryUpdate} {
		m.unsubs = append(m.unsubs, src.Subscribe(ev, func(msg client.Message) {
			m.forward(eventMsg{msg: msg})
		}))
	}
	m.unsubs = append(m.unsubs, src.OnConnectionChange(func(connected bool, transport string) {
		m.forward(connMsg{connected: connected, transport: transport})
	}))

	m.refresh()
	return m
}

// forward hands a message to the UI loop. Hook callbacks must not block, so
// a full buffer drops the message; the periodic refresh resyncs state.
func (m Model) forward(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case <-m.ctx.Done():
			return nil
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts listening for hook events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), tick())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.Width = msg.Width
		m.inbox.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case eventMsg:
		m.handleEvent(msg.msg)
		m.refresh()
		return m, m.listen()

	case connMsg:
		if msg.connected {
			m.feed.Add(feed.KindConn, "connected via "+msg.transport)
		} else {
			m.feed.Add(feed.KindError, "disconnected")
		}
		m.refresh()
		return m, m.listen()

	case orderResultMsg:
		m.handleOrderResult(msg)
		m.refresh()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()
	}

	return m, nil
}

func (m *Model) handleEvent(msg client.Message) {
	switch msg.Type {
	case client.EventOrderUpdate:
		var u client.OrderUpdate
		if err := msg.Decode(&u); err != nil {
			m.feed.Add(feed.KindError, "bad order update: "+err.Error())
			return
		}
		m.feed.AddOrder(u)
	case client.EventInventoryUpdate:
		var u client.InventoryUpdate
		if err := msg.Decode(&u); err != nil {
			m.feed.Add(feed.KindError, "bad inventory update: "+err.Error())
			return
		}
		m.feed.AddInventory(u)
	}
}

func (m *Model) handleOrderResult(r orderResultMsg) {
	verb := "watching"
	if !r.join {
		verb = "stopped watching"
	}
	switch {
	case r.err == nil:
		m.feed.Add(feed.KindConn, fmt.Sprintf("%s order %s", verb, r.orderID))
	case errors.Is(r.err, client.ErrNotConnected):
		m.feed.Add(feed.KindConn, fmt.Sprintf("%s order %s once connected", verb, r.orderID))
	default:
		m.feed.Add(feed.KindError, fmt.Sprintf("order %s: %v", r.orderID, r.err))
	}
}

// refresh pulls connection state and the notification buffer from the hook.
func (m *Model) refresh() {
	if m.src == nil {
		return
	}
	m.statusBar.Identity = m.src.Identity()
	m.statusBar.SetConnection(m.src.IsConnected(), m.src.Transport())
	m.statusBar.Orders = m.src.Orders()
	notes := m.src.Notifications()
	m.statusBar.Unread = len(notes)
	m.inbox.SetItems(notes)
}

func (m Model) orderCmd(orderID string, join bool) tea.Cmd {
	src := m.src
	return func() tea.Msg {
		var err error
		if join {
			err = src.JoinOrder(orderID)
		} else {
			err = src.LeaveOrder(orderID)
		}
		return orderResultMsg{orderID: orderID, join: join, err: err}
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompt != PromptNone {
		return m.handlePromptKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.shutdown()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Down):
		m.inbox.Next()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.inbox.Prev()
		return m, nil

	case key.Matches(msg, m.keys.MarkRead):
		if n, ok := m.inbox.Selected(); ok {
			m.src.MarkAsRead(n.ID)
			m.refresh()
		}
		return m, nil

	case key.Matches(msg, m.keys.Clear):
		m.src.ClearNotifications()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.JoinOrder):
		cmd := m.openPrompt(PromptJoin)
		return m, cmd

	case key.Matches(msg, m.keys.LeaveOrder):
		cmd := m.openPrompt(PromptLeave)
		return m, cmd

	case key.Matches(msg, m.keys.FeedUp):
		m.feed.ScrollUp(5)
		return m, nil

	case key.Matches(msg, m.keys.FeedDown):
		m.feed.ScrollDown(5)
		return m, nil
	}

	return m, nil
}

func (m *Model) openPrompt(p Prompt) tea.Cmd {
	m.prompt = p
	m.input.Reset()
	if p == PromptJoin {
		m.input.Prompt = "watch order: "
	} else {
		m.input.Prompt = "unwatch order: "
	}
	return m.input.Focus()
}

func (m Model) handlePromptKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.prompt = PromptNone
		m.input.Blur()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		p := m.prompt
		value := m.input.Value()
		m.prompt = PromptNone
		m.input.Blur()
		return m, m.orderCmd(value, p == PromptJoin)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// shutdown detaches from the hook. Closing the hook is the caller's job.
func (m Model) shutdown() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.cancel()
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	sections := []string{m.statusBar.View()}
	if m.statusBar.Identity != "" && !m.statusBar.Connected {
		sections = append(sections, m.renderDisconnected())
	}

	// Split what is left between the inbox and the activity feed.
	avail := m.height - 6
	if avail < 8 {
		avail = 8
	}
	inboxRows := avail / 2
	sections = append(sections,
		m.inbox.View(inboxRows),
		m.feed.View(m.width, avail-inboxRows),
	)

	if m.prompt != PromptNone {
		sections = append(sections, m.input.View())
	} else {
		sections = append(sections, theme.StyleDimmed.Render(
			"  j/k:navigate  enter:mark read  c:clear  o:watch order  x:unwatch  pgup/pgdn:activity  q:quit"))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderDisconnected() string {
	return lipgloss.NewStyle().
		Foreground(theme.ColorDanger).
		Bold(true).
		Padding(0, 1).
		Render("DISCONNECTED · Reconnecting...")
}
