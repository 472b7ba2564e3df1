package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chatline/internal/api"
	"chatline/internal/chatsync"
)

const defaultDirName = "chatline-exports"

type Exporter struct {
	overrideDir string
	cwd         string
}

func New(overrideDir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{overrideDir: strings.TrimSpace(overrideDir), cwd: cwd}, nil
}

func (e *Exporter) Export(conv api.Conversation, entries []chatsync.Entry) (string, error) {
	path := e.outputPath(conv)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	md := BuildChatMarkdown(conv, BuildTranscriptMarkdown(entries), time.Now().UTC())
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

// BuildTranscriptMarkdown renders one section per message. Blank text-only
// messages are skipped; media is written as a link so the file stays portable.
func BuildTranscriptMarkdown(entries []chatsync.Entry) string {
	var b strings.Builder
	for _, e := range entries {
		m := e.Message
		content := strings.TrimSpace(m.Content)
		if content == "" && !m.HasMedia() {
			continue
		}

		header := "## " + safeValue(m.Author)
		if !m.SentAt.IsZero() {
			header += " (" + m.SentAt.UTC().Format(time.RFC3339) + ")"
		}
		b.WriteString(header + "\n\n")
		if content != "" {
			b.WriteString(content + "\n\n")
		}
		if m.HasMedia() {
			label := "media"
			if e.LoadFailed {
				label = "media (failed to load)"
			}
			b.WriteString("[" + label + "](" + strings.TrimSpace(m.MediaURL) + ")\n\n")
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func BuildChatMarkdown(conv api.Conversation, transcript string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Chat with " + safeValue(conv.DisplayName()) + "\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString(fmt.Sprintf("chat_id: %d\n", conv.ID))
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Exporter) outputPath(conv api.Conversation) string {
	dir := filepath.Join(e.cwd, defaultDirName)
	if e.overrideDir != "" {
		dir = e.overrideDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(e.cwd, dir)
		}
	}
	return filepath.Join(dir, fmt.Sprintf("chat-%d.md", conv.ID))
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
