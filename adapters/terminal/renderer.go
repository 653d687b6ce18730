package terminal

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/satriahrh/cocoa-fruit/relay/domain"
	"github.com/satriahrh/cocoa-fruit/relay/usecase"
)

type styles struct {
	assistant lipgloss.Style
	errorText lipgloss.Style
	notice    lipgloss.Style
	recTitle  lipgloss.Style
	recScore  lipgloss.Style
	recReason lipgloss.Style
	recCard   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		assistant: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		errorText: r.NewStyle().Foreground(lipgloss.Color("9")),
		notice:    r.NewStyle().Faint(true).Italic(true),
		recTitle:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")),
		recScore:  r.NewStyle().Foreground(lipgloss.Color("10")),
		recReason: r.NewStyle().MarginLeft(2).Foreground(lipgloss.Color("#AFAFAF")),
		recCard: r.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1),
	}
}

// Renderer prints a session to a terminal as it changes. Assistant text is
// written incrementally, so the pacing of the session is what the user
// sees. It is meant to be used as a usecase.Observer.
type Renderer struct {
	out   io.Writer
	style styles

	mu        sync.Mutex
	messageID string
	shown     string
	finished  bool
}

func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, style: newStyles(lipgloss.NewRenderer(out))}
}

func (r *Renderer) Observe(u usecase.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case usecase.UpdateRestarted:
		r.reset()
		fmt.Fprintln(r.out, r.style.notice.Render("Started a new conversation."))
		return
	case usecase.UpdateError:
		// The error text also lands in the assistant message.
		return
	}

	last, ok := u.Snapshot.LastMessage()
	if !ok || last.Role != domain.AssistantRole {
		return
	}
	if last.ID != r.messageID {
		r.reset()
		r.messageID = last.ID
		fmt.Fprint(r.out, r.style.assistant.Render("assistant")+"> ")
	}
	if r.finished {
		return
	}

	r.writeText(last.Content, u.Snapshot.State == domain.StateErrored)

	// A turn is over once the session has moved on from it.
	if last.Streaming || u.Kind != usecase.UpdateState {
		return
	}
	r.finished = true
	fmt.Fprintln(r.out)
	if len(last.Recommendations) > 0 {
		r.writeRecommendations(last)
	}
	if u.Snapshot.State == domain.StateComplete {
		fmt.Fprintln(r.out, r.style.notice.Render("Conversation complete. Type /restart to begin again."))
	}
}

func (r *Renderer) reset() {
	r.messageID = ""
	r.shown = ""
	r.finished = false
}

// writeText prints the part of content not yet on screen. Content only
// grows, except when an error replaces it; then it starts on a new line.
func (r *Renderer) writeText(content string, errored bool) {
	tail := strings.TrimPrefix(content, r.shown)
	if !strings.HasPrefix(content, r.shown) {
		fmt.Fprintln(r.out)
		tail = content
	}
	if tail == "" {
		return
	}
	r.shown = content
	if errored {
		// Styled line by line; lipgloss pads multi-line blocks.
		lines := strings.Split(tail, "\n")
		for i, line := range lines {
			if line != "" {
				lines[i] = r.style.errorText.Render(line)
			}
		}
		tail = strings.Join(lines, "\n")
	}
	fmt.Fprint(r.out, tail)
}

func (r *Renderer) writeRecommendations(m domain.Message) {
	recs := domain.TopRecommendations(m.Recommendations, domain.DefaultTopRecommendations)
	header := fmt.Sprintf("Top %d of %d matching categories", len(recs), max(m.MatchCount, len(m.Recommendations)))
	fmt.Fprintln(r.out, r.style.notice.Render(header))

	for i, rec := range recs {
		var b strings.Builder
		title := fmt.Sprintf("%d. %s", i+1, rec.CategoryName)
		if rec.IsFree {
			title += " (free)"
		}
		b.WriteString(r.style.recTitle.Render(title))
		b.WriteString("  ")
		b.WriteString(r.style.recScore.Render(fmt.Sprintf("%d%% match", rec.MatchPercent())))
		if rec.ProgramName != "" {
			b.WriteString("\n" + rec.ProgramName)
		}
		for _, reason := range rec.TopReasons(domain.DefaultTopReasons) {
			b.WriteString("\n" + r.style.recReason.Render("- "+reason))
		}
		fmt.Fprintln(r.out, r.style.recCard.Render(b.String()))
	}
}
