package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/stepflow/internal/chat"
)

var (
	chatURL  string
	chatUser string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Connect to a running bot as a terminal chat client",
	Long: `Open an interactive chat session against a running stepflow bot.

Type to answer the current step. Prompts may offer buttons, shown as
[Label -> @data]; press one by typing its @data shortcut. Commands like
/processes and /start <id> go to the bot as-is.

Examples:
  stepflow chat
  stepflow chat --url ws://bot.internal:8080/ws --user alice`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatURL, "url", "ws://localhost:8080/ws", "bot websocket URL")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "user id to chat as (defaults to $USER)")
}

// chatTheme colors, matching the bot's tone: prompts stand out, own input
// is dimmed.
type chatTheme struct {
	Bot    lipgloss.Color
	Self   lipgloss.Color
	Button lipgloss.Color
	Error  lipgloss.Color
}

var defaultChatTheme = chatTheme{
	Bot:    lipgloss.Color("#5FAFD7"), // light blue
	Self:   lipgloss.Color("#6C6C6C"), // dim gray
	Button: lipgloss.Color("#00D787"), // green
	Error:  lipgloss.Color("#FF005F"), // red
}

func (t chatTheme) botStyle() lipgloss.Style    { return lipgloss.NewStyle().Foreground(t.Bot) }
func (t chatTheme) selfStyle() lipgloss.Style   { return lipgloss.NewStyle().Foreground(t.Self).Italic(true) }
func (t chatTheme) buttonStyle() lipgloss.Style { return lipgloss.NewStyle().Foreground(t.Button) }
func (t chatTheme) errorStyle() lipgloss.Style  { return lipgloss.NewStyle().Foreground(t.Error).Bold(true) }

// promptMsg carries one decoded bot prompt into the UI loop.
type promptMsg struct {
	Text    string
	Buttons []chat.Button
}

// connClosedMsg ends the session when the websocket drops.
type connClosedMsg struct{ err error }

// chatModel is the bubbletea model for the chat session.
type chatModel struct {
	conn   *websocket.Conn
	userID string
	theme  chatTheme

	input    textinput.Model
	lines    []string
	maxLines int
	err      error
}

func newChatModel(conn *websocket.Conn, userID string) chatModel {
	ti := textinput.New()
	ti.Placeholder = "type a message, /help for commands"
	ti.Focus()

	return chatModel{
		conn:     conn,
		userID:   userID,
		theme:    defaultChatTheme,
		input:    ti,
		maxLines: 500,
		lines: []string{
			fmt.Sprintf("Connected as %s. Ctrl+C to quit.", userID),
		},
	}
}

func (m chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			return m.submit()
		}

	case promptMsg:
		m.lines = append(m.lines, m.theme.botStyle().Render("bot: "+msg.Text))
		for _, b := range msg.Buttons {
			m.lines = append(m.lines, m.theme.buttonStyle().Render(fmt.Sprintf("  [%s -> @%s]", b.Label, b.Data)))
		}
		m.trim()
		return m, nil

	case connClosedMsg:
		m.err = msg.err
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit sends the typed line as a chat event. The @data shortcut becomes
// a button event, everything else a text event.
func (m chatModel) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	ev := chat.Event{UserID: m.userID, Kind: chat.EventText, Payload: text}
	if data, ok := strings.CutPrefix(text, "@"); ok {
		ev = chat.Event{UserID: m.userID, Kind: chat.EventButton, Payload: data}
	}

	if err := m.conn.WriteJSON(ev); err != nil {
		m.err = fmt.Errorf("send: %w", err)
		return m, tea.Quit
	}

	m.lines = append(m.lines, m.theme.selfStyle().Render("you: "+text))
	m.trim()
	return m, nil
}

func (m *chatModel) trim() {
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
}

func (m chatModel) View() tea.View {
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(m.theme.errorStyle().Render(fmt.Sprintf("connection lost: %v", m.err)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return tea.NewView(b.String())
}

// readLoop decodes bot frames and feeds the ones addressed to this user
// into the program. The gateway broadcasts to every connection, so frames
// for other users are dropped here.
func readLoop(conn *websocket.Conn, userID string, p *tea.Program) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.Send(connClosedMsg{err: err})
			return
		}

		var frame struct {
			UserID  string        `json:"user_id"`
			Text    string        `json:"text"`
			Buttons []chat.Button `json:"buttons"`
		}
		if err := json.Unmarshal(data, &frame); err != nil || frame.UserID != userID {
			continue
		}
		p.Send(promptMsg{Text: frame.Text, Buttons: frame.Buttons})
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("chat needs an interactive terminal")
	}

	userID := chatUser
	if userID == "" {
		userID = os.Getenv("USER")
	}
	if userID == "" {
		return fmt.Errorf("no user id: pass --user or set $USER")
	}

	conn, _, err := websocket.DefaultDialer.Dial(chatURL, nil)
	if err != nil {
		return fmt.Errorf("connect to bot at %s: %w", chatURL, err)
	}
	defer conn.Close()

	p := tea.NewProgram(newChatModel(conn, userID))
	go readLoop(conn, userID, p)

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("chat UI error: %w", err)
	}
	if m, ok := finalModel.(chatModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
