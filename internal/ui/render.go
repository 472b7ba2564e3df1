package ui

import (
	"strconv"
	"strings"

	"chatline/internal/chatsync"
	"chatline/internal/config"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

type renderMsg struct {
	version  uint64
	width    int
	rendered string
}

// messagesMarkdown renders the message list. Media shows as a placeholder
// with its loading state instead of the bytes themselves.
func messagesMarkdown(entries []chatsync.Entry, selfSub, peer string) string {
	if len(entries) == 0 {
		return "_No messages yet. Press `i` to write one._\n"
	}
	if strings.TrimSpace(peer) == "" {
		peer = "Them"
	}

	var b strings.Builder
	for _, e := range entries {
		m := e.Message
		author := peer
		if selfSub != "" && m.Author == selfSub {
			author = "You"
		}
		header := "**" + author + "**"
		if !m.SentAt.IsZero() {
			header += " _" + m.SentAt.Local().Format("Jan 2 15:04") + "_"
		}
		b.WriteString(header + "\n\n")
		if content := strings.TrimSpace(m.Content); content != "" {
			b.WriteString(content + "\n\n")
		}
		if m.HasMedia() {
			b.WriteString(mediaPlaceholder(e) + "\n\n")
		}
	}
	return b.String()
}

func mediaPlaceholder(e chatsync.Entry) string {
	out := "`[image: " + strings.TrimSpace(e.Message.MediaURL) + "]`"
	switch {
	case e.Loading:
		out += " _(loading...)_"
	case e.LoadFailed:
		out += " _(failed to load)_"
	}
	return out
}

func renderMessagesCmd(md string, version uint64, width int) tea.Cmd {
	return func() tea.Msg {
		md = sanitizeMarkdownForDisplay(md)
		wrap := width - 2
		if wrap < 20 {
			wrap = 20
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(config.DefaultGlamourStyle),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return renderMsg{version: version, width: width, rendered: md}
		}
		rendered := md
		if out, renderErr := r.Render(md); renderErr == nil {
			rendered = out
		}
		return renderMsg{version: version, width: width, rendered: rendered}
	}
}

func sanitizeMarkdownForDisplay(md string) string {
	md = stripEmbeddedImageData(md)
	return clampLongLines(md, 8000)
}

// stripEmbeddedImageData replaces inline base64 images that users paste into
// a message body.
func stripEmbeddedImageData(s string) string {
	var b strings.Builder
	pos := 0
	for {
		i := strings.Index(s[pos:], "data:image/")
		if i < 0 {
			b.WriteString(s[pos:])
			break
		}
		start := pos + i
		b.WriteString(s[pos:start])

		rest := s[start:]
		markerIdx := strings.Index(rest, ";base64,")
		if markerIdx < 0 {
			b.WriteString("data:image/")
			pos = start + len("data:image/")
			continue
		}

		payloadStart := start + markerIdx + len(";base64,")
		j := payloadStart
		for j < len(s) && isBase64Byte(s[j]) {
			j++
		}
		b.WriteString("[inline image omitted: ")
		b.WriteString(strconv.Itoa(j - payloadStart))
		b.WriteString(" base64 chars]")
		pos = j
	}
	return b.String()
}

func isBase64Byte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+' || c == '/' || c == '=':
		return true
	default:
		return false
	}
}

func clampLongLines(s string, max int) string {
	if max <= 0 || len(s) == 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if len(line) <= max {
			continue
		}
		head := line[:max/2]
		tail := line[len(line)-max/2:]
		lines[i] = head + "... [line truncated " + strconv.Itoa(len(line)-max) + " chars] ..." + tail
	}
	return strings.Join(lines, "\n")
}
