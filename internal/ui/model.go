package ui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chatline/internal/api"
	"chatline/internal/chatsync"
	"chatline/internal/config"
	"chatline/internal/desktop"
	"chatline/internal/export"
	"chatline/internal/highlight"
	"chatline/internal/session"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/sirupsen/logrus"
)

type screen int

const (
	screenLogin screen = iota
	screenDashboard
)

type viewMode int

const (
	viewChats viewMode = iota
	viewUsers
)

type focusArea int

const (
	focusList focusArea = iota
	focusMessages
	focusComposer
)

const composerHeight = 3

type Deps struct {
	Config   config.AppConfig
	Backend  Backend
	Sync     Syncer
	Auth     Auth
	Login    LoginFlow
	Search   MessageSearcher
	Exporter *export.Exporter
	Logger   *logrus.Logger

	// Open and Copy default to the desktop helpers.
	Open func(ctx context.Context, url string) error
	Copy func(ctx context.Context, text string) error
}

type Model struct {
	cfg      config.AppConfig
	backend  Backend
	sync     Syncer
	auth     Auth
	login    LoginFlow
	searcher MessageSearcher
	exporter *export.Exporter
	logger   *logrus.Logger
	openURL  func(context.Context, string) error
	copyText func(context.Context, string) error

	views       <-chan chatsync.View
	unsubscribe func()

	chats     list.Model
	users     list.Model
	viewport  viewport.Model
	help      help.Model
	spinner   spinner.Model
	composer  textinput.Model
	pathInput textinput.Model
	userInput textinput.Model
	search    textinput.Model
	keys      keyMap

	width  int
	height int

	screen    screen
	mode      viewMode
	focus     focusArea
	loggingIn bool
	loginErr  error
	spinning  bool

	conversations []api.Conversation
	selected      api.Conversation
	view          chatsync.View
	rendered      string

	sending     bool
	mediaPrompt bool
	composerErr error

	userSeq int

	searchMode  bool
	searchQuery string
	searchHits  map[int64]int
	matchLines  []int
	matchCount  int
	matchIndex  int

	status string
	err    error
}

type chatItem struct {
	c    api.Conversation
	hits int
}

func (i chatItem) Title() string {
	if name := i.c.DisplayName(); name != "" {
		return name
	}
	return fmt.Sprintf("chat #%d", i.c.ID)
}

func (i chatItem) Description() string {
	if i.hits > 0 {
		return fmt.Sprintf("#%d | %d matching messages", i.c.ID, i.hits)
	}
	return fmt.Sprintf("#%d", i.c.ID)
}

func (i chatItem) FilterValue() string {
	return strings.ToLower(i.c.DisplayName())
}

type userItem struct {
	u     api.User
	query string
}

func (i userItem) Title() string {
	name := i.u.Name()
	if name == "" {
		name = i.u.Sub
	}
	return highlight.Render(highlight.Parts(name, i.query), func(s string) string {
		return searchMatchStyle.Render(s)
	})
}

func (i userItem) Description() string {
	return ansi.Truncate(i.u.Sub, 36, "...")
}

func (i userItem) FilterValue() string {
	return strings.ToLower(i.u.Name())
}

func NewModel(d Deps) Model {
	chats := newList("Chats")
	users := newList("Users")

	vp := viewport.New(60, 20)
	vp.SetContent(idleText)

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	composer := newInput("> ", "Write a message...", 4000)
	pathInput := newInput("file: ", "Path to an image or video...", 1024)
	userInput := newInput("@ ", "Search users by name...", 128)
	search := newInput("/ ", "Search cached messages...", 256)

	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	openURL := d.Open
	if openURL == nil {
		openURL = desktop.Open
	}
	copyText := d.Copy
	if copyText == nil {
		copyText = desktop.Copy
	}

	m := Model{
		cfg:       d.Config,
		backend:   d.Backend,
		sync:      d.Sync,
		auth:      d.Auth,
		login:     d.Login,
		searcher:  d.Search,
		exporter:  d.Exporter,
		logger:    logger,
		openURL:   openURL,
		copyText:  copyText,
		chats:     chats,
		users:     users,
		viewport:  vp,
		help:      h,
		spinner:   sp,
		composer:  composer,
		pathInput: pathInput,
		userInput: userInput,
		search:    search,
		keys:      defaultKeys(),

		screen:     screenLogin,
		matchIndex: -1,
	}
	if d.Auth != nil && d.Auth.IsAuthenticated() {
		m.screen = screenDashboard
	}
	if d.Sync != nil {
		m.views, m.unsubscribe = d.Sync.Subscribe()
	}
	return m
}

func newList(title string) list.Model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20)
	l.Title = title
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	return l
}

func newInput(prompt, placeholder string, limit int) textinput.Model {
	ti := textinput.New()
	ti.Prompt = prompt
	ti.Placeholder = placeholder
	ti.CharLimit = limit
	return ti
}

const idleText = "Select a chat with enter, or press tab to find someone to talk to."

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{waitForView(m.views)}
	if m.screen == screenDashboard {
		cmds = append(cmds, m.conversationsCmd(0))
	}
	return tea.Batch(cmds...)
}

// Close releases the view subscription.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		cmds = append(cmds, m.renderView())

	case spinner.TickMsg:
		if !m.busy() {
			m.spinning = false
			break
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case viewMsg:
		cmds = append(cmds, waitForView(m.views), m.applyView(msg.view))

	case viewsClosedMsg:
		m.views = nil

	case renderMsg:
		if msg.version != m.view.Version || msg.width != m.viewport.Width {
			break
		}
		m.rendered = msg.rendered
		m.setViewportContent(true)

	case conversationsMsg:
		if msg.err != nil {
			m.reportErr("Could not load chats", msg.err)
			m.conversations = nil
		} else {
			m.conversations = msg.convs
		}
		m.applyConversations(msg.selectID)

	case loginMsg:
		m.loggingIn = false
		if msg.err != nil {
			m.loginErr = msg.err
			m.logger.WithError(msg.err).Warn("login failed")
			break
		}
		m.loginErr = nil
		m.screen = screenDashboard
		m.status = "Signed in"
		cmds = append(cmds, m.conversationsCmd(0))

	case logoutMsg:
		if msg.err != nil && !errors.Is(msg.err, session.ErrLocalLogout) {
			m.reportErr("Logout failed", msg.err)
			break
		}
		m.signedOut()
		m.status = "Signed out"
		if msg.err != nil {
			m.logger.WithError(msg.err).Warn("provider logout skipped")
			m.status = "Signed out locally"
		}

	case sendMsg:
		m.sending = false
		if m.focus == focusComposer {
			m.composer.Focus()
		}
		if msg.err != nil {
			m.composerErr = msg.err
			m.logger.WithError(msg.err).WithField("conversation_id", msg.conversationID).Warn("send failed")
			if m.unauthorized(msg.err) {
				m.signedOut()
			}
			break
		}
		m.composerErr = nil
		m.composer.Reset()
		if msg.conversationID == m.selected.ID {
			m.sync.Refresh()
		}

	case userDebounceMsg:
		if msg.seq != m.userSeq {
			break
		}
		if q := strings.TrimSpace(m.userInput.Value()); q != "" {
			cmds = append(cmds, m.searchUsersCmd(msg.seq, q))
		}

	case usersMsg:
		if msg.seq != m.userSeq {
			break
		}
		if msg.err != nil {
			m.reportErr("User search failed", msg.err)
			m.users.SetItems(nil)
			break
		}
		items := make([]list.Item, 0, len(msg.users))
		for _, u := range msg.users {
			items = append(items, userItem{u: u, query: msg.query})
		}
		m.users.SetItems(items)

	case chatCreatedMsg:
		if msg.err != nil {
			m.reportErr("Could not start chat", msg.err)
			break
		}
		m.mode = viewChats
		m.userInput.Blur()
		m.selectChat(msg.conv)
		cmds = append(cmds, m.conversationsCmd(msg.conv.ID))

	case searchMsg:
		if msg.query != m.searchQuery {
			break
		}
		if msg.err != nil {
			m.reportErr("Search failed", msg.err)
			break
		}
		m.searchHits = make(map[int64]int, len(msg.hits))
		for _, h := range msg.hits {
			m.searchHits[h.ConversationID] = h.Hits
		}
		m.applyConversations(0)

	case exportMsg:
		if msg.err != nil {
			m.reportErr("Export failed", msg.err)
		} else {
			m.status = "Exported: " + msg.path
		}

	case copyMsg:
		if msg.err != nil {
			m.err = msg.err
			if errors.Is(msg.err, desktop.ErrToolNotFound) {
				m.status = "Could not copy: clipboard tool not found"
			} else {
				m.status = "Could not copy: " + msg.err.Error()
			}
		} else {
			m.status = "Copied transcript to clipboard"
		}

	case tea.KeyMsg:
		var cmd tea.Cmd
		m, cmd = m.handleKey(msg)
		cmds = append(cmds, cmd)
	}

	if m.busy() && !m.spinning {
		m.spinning = true
		cmds = append(cmds, m.spinner.Tick)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) busy() bool {
	return m.loggingIn || m.sending || m.view.State == chatsync.Loading
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	switch {
	case m.screen == screenLogin:
		return m.handleLoginKey(msg)
	case m.searchMode:
		return m.handleSearchKey(msg)
	case m.mediaPrompt:
		return m.handleMediaPromptKey(msg)
	case m.focus == focusComposer:
		return m.handleComposerKey(msg)
	case m.mode == viewUsers:
		return m.handleUsersKey(msg)
	default:
		return m.handleChatsKey(msg)
	}
}

func (m Model) handleLoginKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if m.loggingIn || m.login == nil {
			return m, nil
		}
		m.loggingIn = true
		m.loginErr = nil
		return m, m.loginCmd()
	case "q", "esc":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.searchMode = false
		m.searchQuery = ""
		m.searchHits = nil
		m.search.SetValue("")
		m.search.Blur()
		m.applyConversations(0)
		m.setViewportContent(false)
		return m, nil
	case "enter":
		m.searchMode = false
		m.search.Blur()
		m.searchQuery = strings.TrimSpace(m.search.Value())
		m.setViewportContent(false)
		return m, m.searchCmd(m.searchQuery)
	}

	before := strings.TrimSpace(m.search.Value())
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	after := strings.TrimSpace(m.search.Value())
	if after == before {
		return m, cmd
	}
	m.searchQuery = after
	m.setViewportContent(false)
	if after == "" {
		m.searchHits = nil
		m.applyConversations(0)
		return m, cmd
	}
	return m, tea.Batch(cmd, m.searchCmd(after))
}

func (m Model) handleMediaPromptKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mediaPrompt = false
		m.pathInput.Blur()
		return m, nil
	case "enter":
		path := strings.TrimSpace(m.pathInput.Value())
		m.mediaPrompt = false
		m.pathInput.Blur()
		m.pathInput.Reset()
		if path == "" || m.selected.ID == 0 || m.sending {
			return m, nil
		}
		m.sending = true
		m.composerErr = nil
		m.composer.Blur()
		return m, m.sendMediaCmd(m.selected.ID, path)
	}
	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m Model) handleComposerKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Esc):
		m.focus = focusList
		m.composer.Blur()
		return m, nil
	case m.sending:
		return m, nil
	case key.Matches(msg, m.keys.Send):
		text := m.composer.Value()
		if strings.TrimSpace(text) == "" || m.selected.ID == 0 {
			return m, nil
		}
		m.sending = true
		m.composerErr = nil
		m.composer.Blur()
		return m, m.sendTextCmd(m.selected.ID, text)
	case key.Matches(msg, m.keys.Media):
		return m.startMediaPrompt(), nil
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m Model) handleUsersKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.SwitchView):
		cmd := m.switchView()
		return m, cmd
	case key.Matches(msg, m.keys.Logout):
		return m, m.logoutCmd()
	case msg.String() == "up" || msg.String() == "down":
		var cmd tea.Cmd
		m.users, cmd = m.users.Update(msg)
		return m, cmd
	case msg.String() == "enter":
		item, ok := m.users.SelectedItem().(userItem)
		if !ok {
			return m, nil
		}
		return m, m.createChatCmd(item.u.Sub)
	case msg.String() == "esc":
		if m.userInput.Value() == "" {
			cmd := m.switchView()
			return m, cmd
		}
		m.userInput.Reset()
		m.userSeq++
		m.users.SetItems(nil)
		return m, nil
	}

	before := strings.TrimSpace(m.userInput.Value())
	var cmd tea.Cmd
	m.userInput, cmd = m.userInput.Update(msg)
	after := strings.TrimSpace(m.userInput.Value())
	if after == before {
		return m, cmd
	}
	m.userSeq++
	if after == "" {
		m.users.SetItems(nil)
		return m, cmd
	}
	return m, tea.Batch(cmd, debounceUsersCmd(m.userSeq))
}

func (m Model) handleChatsKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.SwitchView):
		cmd := m.switchView()
		return m, cmd
	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.search.SetValue(m.searchQuery)
		m.search.CursorEnd()
		m.search.Focus()
		return m, nil
	case key.Matches(msg, m.keys.Esc):
		if m.searchQuery != "" {
			m.searchQuery = ""
			m.searchHits = nil
			m.search.SetValue("")
			m.applyConversations(0)
			m.setViewportContent(false)
		}
		return m, nil
	case key.Matches(msg, m.keys.Compose):
		if m.selected.ID == 0 {
			m.status = "Select a chat first"
			return m, nil
		}
		m.focus = focusComposer
		cmd := m.composer.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Media):
		if m.selected.ID == 0 {
			m.status = "Select a chat first"
			return m, nil
		}
		return m.startMediaPrompt(), nil
	case key.Matches(msg, m.keys.Refresh):
		if m.selected.ID != 0 {
			m.sync.Refresh()
		}
		return m, m.conversationsCmd(0)
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()
	case key.Matches(msg, m.keys.Copy):
		return m, m.copyCmd()
	case key.Matches(msg, m.keys.Logout):
		return m, m.logoutCmd()
	case key.Matches(msg, m.keys.FocusLeft):
		m.focus = focusList
		return m, nil
	case key.Matches(msg, m.keys.FocusRight):
		m.focus = focusMessages
		return m, nil
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil
	case key.Matches(msg, m.keys.PrevMatch):
		m.jumpToMatch(-1)
		return m, nil
	case key.Matches(msg, m.keys.NextMatch):
		m.jumpToMatch(1)
		return m, nil
	}

	if m.focus == focusMessages {
		switch msg.String() {
		case "up", "k":
			m.viewport.LineUp(1)
		case "down", "j":
			m.viewport.LineDown(1)
		}
		return m, nil
	}

	if msg.String() == "enter" {
		item, ok := m.chats.SelectedItem().(chatItem)
		if !ok {
			return m, nil
		}
		if item.c.ID == m.selected.ID {
			m.focus = focusComposer
			cmd := m.composer.Focus()
			return m, cmd
		}
		m.selectChat(item.c)
		return m, nil
	}

	var cmd tea.Cmd
	m.chats, cmd = m.chats.Update(msg)
	return m, cmd
}

func (m Model) startMediaPrompt() Model {
	m.mediaPrompt = true
	m.pathInput.Reset()
	m.pathInput.Focus()
	return m
}

// selectChat makes conv the displayed chat and starts synchronizing it.
func (m *Model) selectChat(conv api.Conversation) {
	m.selected = conv
	m.rendered = ""
	m.composerErr = nil
	m.clearMatches()
	m.viewport.SetContent("Loading messages...")
	m.sync.Select(conv.ID)
}

// switchView toggles between the chats and users views. Either way the
// selected chat is cleared and synchronization stops.
func (m *Model) switchView() tea.Cmd {
	m.selected = api.Conversation{}
	m.sync.Deselect()
	m.focus = focusList
	m.composer.Blur()
	m.mediaPrompt = false
	m.rendered = ""
	m.clearMatches()

	if m.mode == viewChats {
		m.mode = viewUsers
		m.viewport.SetContent("Type a name to search for people. Press enter to start a chat.")
		return m.userInput.Focus()
	}
	m.mode = viewChats
	m.userInput.Blur()
	m.viewport.SetContent(idleText)
	return m.conversationsCmd(0)
}

// signedOut drops all per-user state and shows the login screen.
func (m *Model) signedOut() {
	if m.sync != nil {
		m.sync.Deselect()
	}
	m.screen = screenLogin
	m.mode = viewChats
	m.focus = focusList
	m.selected = api.Conversation{}
	m.conversations = nil
	m.rendered = ""
	m.sending = false
	m.composer.Reset()
	m.composer.Blur()
	m.userInput.Reset()
	m.userInput.Blur()
	m.chats.SetItems(nil)
	m.users.SetItems(nil)
	m.searchQuery = ""
	m.searchHits = nil
	m.clearMatches()
	m.viewport.SetContent(idleText)
}

func (m Model) unauthorized(err error) bool {
	var se *api.StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}

func (m *Model) reportErr(status string, err error) {
	m.err = err
	m.status = status
	m.logger.WithError(err).Warn(strings.ToLower(status))
	if m.unauthorized(err) {
		m.signedOut()
	}
}

func (m *Model) applyView(v chatsync.View) tea.Cmd {
	if m.view.Version != 0 && v.Version <= m.view.Version {
		return nil
	}
	if v.State != chatsync.Idle && v.ConversationID != m.selected.ID {
		return nil
	}
	m.view = v
	if v.Err != nil {
		m.reportErr("Could not load messages", v.Err)
	}
	return m.renderView()
}

func (m *Model) renderView() tea.Cmd {
	if m.mode != viewChats {
		return nil
	}
	if m.selected.ID == 0 || m.view.State == chatsync.Idle {
		m.rendered = ""
		m.clearMatches()
		m.viewport.SetContent(idleText)
		return nil
	}
	if m.view.State == chatsync.Loading {
		m.viewport.SetContent("Loading messages...")
		return nil
	}

	md := messagesMarkdown(m.view.Entries, m.selfSub(), m.selected.DisplayName())
	if m.view.Err != nil {
		md = "_Could not load messages: " + m.view.Err.Error() + "_\n"
	}
	return renderMessagesCmd(md, m.view.Version, m.viewport.Width)
}

func (m Model) selfSub() string {
	c, ok := m.userClaims()
	if !ok {
		return ""
	}
	return c.Subject
}

func (m *Model) applyConversations(selectID int64) {
	filter := strings.TrimSpace(m.searchQuery) != "" && m.searchHits != nil
	items := make([]list.Item, 0, len(m.conversations))
	cursor := -1
	for _, c := range m.conversations {
		hits := m.searchHits[c.ID]
		if filter && hits == 0 {
			continue
		}
		if c.ID == m.selected.ID {
			m.selected = c
		}
		if (selectID != 0 && c.ID == selectID) || (selectID == 0 && cursor < 0 && c.ID == m.selected.ID) {
			cursor = len(items)
		}
		items = append(items, chatItem{c: c, hits: hits})
	}
	m.chats.SetItems(items)
	if cursor >= 0 {
		m.chats.Select(cursor)
	}
	if len(items) == 0 && m.selected.ID == 0 && m.mode == viewChats {
		if filter {
			m.viewport.SetContent("No chats matched your search.")
		} else {
			m.viewport.SetContent("No chats yet. Press tab to find someone.")
		}
	}
}

func (m *Model) setViewportContent(gotoBottom bool) {
	if m.rendered == "" {
		return
	}
	content := m.rendered
	if query := strings.TrimSpace(m.searchQuery); query != "" {
		res := highlight.ApplyANSI(m.rendered, query, func(s string) string {
			return searchMatchStyle.Render(s)
		})
		content = res.Text
		m.setMatchMeta(res)
	} else {
		m.clearMatches()
	}

	offset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if gotoBottom {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(m.clampViewportOffset(offset))
}

func (m *Model) setMatchMeta(res highlight.Result) {
	if res.Count == 0 || len(res.LineIndex) == 0 {
		m.clearMatches()
		return
	}
	m.matchCount = res.Count
	m.matchLines = append(m.matchLines[:0], res.LineIndex...)
	if m.matchIndex < 0 || m.matchIndex >= len(m.matchLines) {
		m.matchIndex = 0
	}
}

func (m *Model) clearMatches() {
	m.matchLines = nil
	m.matchCount = 0
	m.matchIndex = -1
}

func (m *Model) jumpToMatch(delta int) {
	if len(m.matchLines) == 0 {
		if strings.TrimSpace(m.searchQuery) != "" {
			m.status = "No search matches in this chat"
		}
		return
	}

	if m.matchIndex < 0 || m.matchIndex >= len(m.matchLines) {
		m.matchIndex = 0
	} else if delta > 0 {
		m.matchIndex = (m.matchIndex + 1) % len(m.matchLines)
	} else if delta < 0 {
		m.matchIndex = (m.matchIndex - 1 + len(m.matchLines)) % len(m.matchLines)
	}

	line := m.matchLines[m.matchIndex]
	m.viewport.SetYOffset(m.clampViewportOffset(line))
	m.status = fmt.Sprintf("Match %d/%d", m.matchIndex+1, m.matchCount)
}

func (m *Model) clampViewportOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	left, right := m.paneWidths()

	bodyHeight := m.height - 2
	if bodyHeight < 8 {
		bodyHeight = 8
	}

	m.chats.SetSize(left-2, bodyHeight-2)
	m.users.SetSize(left-2, bodyHeight-3)
	m.viewport.Width = right - 2
	m.viewport.Height = bodyHeight - 2 - composerHeight
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
	m.composer.Width = right - 6
	m.pathInput.Width = right - 10
	m.userInput.Width = left - 6
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}
	if m.screen == screenLogin {
		return m.loginView()
	}

	left, right := m.paneWidths()
	bodyHeight := m.height - 2

	var leftBody string
	if m.mode == viewUsers {
		leftBody = lipgloss.JoinVertical(lipgloss.Left, m.userInput.View(), m.users.View())
	} else {
		leftBody = m.chats.View()
	}
	leftPane := panelStyle(m.focus == focusList).Width(left).Height(bodyHeight).Render(leftBody)

	rightBody := lipgloss.JoinVertical(lipgloss.Left, m.viewport.View(), m.composerView(right-4))
	rightPane := panelStyle(m.focus != focusList).Width(right).Height(bodyHeight).Render(rightBody)
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	helpView := m.help.View(m.keys)
	if m.searchMode {
		helpView = m.search.View() + "  " + helpView
	} else if m.searchQuery != "" {
		helpView = "search: " + m.searchQuery + "  " + helpView
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		body,
		helpView,
	)
}

func (m Model) composerView(width int) string {
	var line string
	switch {
	case m.selected.ID == 0:
		line = dimStyle.Render("No chat selected")
	case m.mediaPrompt:
		line = m.pathInput.View()
	case m.sending:
		line = m.spinner.View() + " sending..."
	default:
		line = m.composer.View()
	}
	errLine := ""
	if m.composerErr != nil {
		errLine = errorStyle.Render(ansi.Truncate("Send failed: "+m.composerErr.Error(), width, "..."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, strings.Repeat("─", max(width, 1)), line, errLine)
}

func (m Model) loginView() string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Render("chatline"),
		"",
	}
	switch {
	case m.loggingIn:
		lines = append(lines, m.spinner.View()+" Waiting for the browser sign-in to finish...")
	default:
		lines = append(lines, "Press enter to sign in with your browser.", dimStyle.Render("q to quit"))
	}
	if u := strings.TrimSpace(m.cfg.APIURL); u != "" {
		lines = append(lines, "", dimStyle.Render("server: "+u))
	}
	if m.loginErr != nil {
		lines = append(lines, "", errorStyle.Render(ansi.Truncate("Sign-in failed: "+m.loginErr.Error(), max(m.width-12, 20), "...")))
	}
	box := loginStyle.Render(strings.Join(lines, "\n"))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) statusLine() string {
	var parts []string
	if c, ok := m.userClaims(); ok {
		name := strings.TrimSpace(c.GivenName + " " + c.FamilyName)
		if name == "" {
			name = c.Email
		}
		if name != "" {
			parts = append(parts, "user="+name)
		}
	}
	if m.mode == viewUsers {
		parts = append(parts, "[users]")
	} else {
		parts = append(parts, "[chats]")
	}
	if m.selected.ID != 0 {
		parts = append(parts, fmt.Sprintf("chat=%s  messages=%d  %s",
			ansi.Truncate(chatItem{c: m.selected}.Title(), 24, "..."),
			len(m.view.Entries),
			m.view.State,
		))
		if m.view.State == chatsync.Loading {
			parts = append(parts, m.spinner.View())
		}
	}
	if strings.TrimSpace(m.searchQuery) != "" {
		if m.matchCount > 0 {
			cur := m.matchIndex + 1
			if cur < 1 {
				cur = 1
			}
			parts = append(parts, fmt.Sprintf("[match %d/%d]", cur, m.matchCount))
		} else {
			parts = append(parts, "[match 0]")
		}
	}
	if s := strings.TrimSpace(m.status); s != "" {
		parts = append(parts, ansi.Truncate(s, 80, "..."))
	}
	if m.err != nil {
		parts = append(parts, "err="+m.err.Error())
	}
	line := strings.Join(parts, "  ")
	if m.width > 2 {
		line = ansi.Truncate(line, m.width-2, "...")
	}
	return statusStyle.Render(line)
}

func (m Model) userClaims() (session.Claims, bool) {
	if m.auth == nil {
		return session.Claims{}, false
	}
	return m.auth.Claims()
}

func (m *Model) paneWidths() (int, int) {
	left := m.width / 3
	if left < 32 {
		left = 32
	}
	if left > m.width-32 {
		left = m.width - 32
	}
	if left < 20 {
		left = 20
	}
	right := m.width - left - 1
	if right < 20 {
		right = 20
	}
	return left, right
}
