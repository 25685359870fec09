// Package render prints sessions, presets and task progress to a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"agentdash/internal/preset"
	"agentdash/internal/session"
	"agentdash/internal/taskrun"
)

const (
	defaultWidth   = 80
	timestampWidth = len("15:04:05")
)

type styles struct {
	heading lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	warning lipgloss.Style
	box     lipgloss.Style
}

func buildStyles(r *lipgloss.Renderer) styles {
	return styles{
		heading: r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}),
		success: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#4ADE80"}).Bold(true),
		failure: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}).Bold(true),
		warning: r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}),
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#0369A1", Dark: "#38BDF8"}).
			Padding(0, 1),
	}
}

// Printer writes to out. Hook methods may be called from the watching
// goroutine, so writes are serialized.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	width  int
	styles styles
}

func New(out io.Writer, width int) *Printer {
	if width <= 0 {
		width = defaultWidth
	}
	return &Printer{
		out:    out,
		width:  width,
		styles: buildStyles(lipgloss.NewRenderer(out)),
	}
}

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

// Hooks wires the printer into a stream consumer.
func (p *Printer) Hooks() taskrun.Hooks {
	return taskrun.Hooks{
		OnState: p.State,
		OnEntry: p.Entry,
		OnReplace: func(t taskrun.Task) {
			p.println(p.styles.muted.Render(fmt.Sprintf("task %s: log replaced by backend record (%d entries)", t.ID, len(t.Logs))))
		},
	}
}

func (p *Printer) State(id taskrun.TaskID, s taskrun.State) {
	switch s {
	case taskrun.StateConnecting:
		p.println(p.styles.muted.Render(fmt.Sprintf("task %s: connecting to log stream", id)))
	case taskrun.StateTerminal:
		p.println(p.styles.muted.Render(fmt.Sprintf("task %s: stream closed", id)))
	}
}

func (p *Printer) Entry(_ taskrun.TaskID, e taskrun.LogEntry) {
	p.println(p.entryLine(e))
}

func (p *Printer) entryLine(e taskrun.LogEntry) string {
	stamp := strings.Repeat(" ", timestampWidth)
	if !e.Timestamp.IsZero() {
		stamp = e.Timestamp.Format("15:04:05")
	}
	body := wordwrap.String(e.Event, p.width-timestampWidth-1)
	lines := strings.Split(body, "\n")
	indent := strings.Repeat(" ", timestampWidth+1)
	for i := 1; i < len(lines); i++ {
		lines[i] = indent + lines[i]
	}
	return p.styles.muted.Render(stamp) + " " + strings.Join(lines, "\n")
}

// Task prints a final task record: status, full log and output or failure.
func (p *Printer) Task(t taskrun.Task) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", p.styles.heading.Render("Task "+string(t.ID)), p.status(t.Status))
	if t.Type != "" {
		fmt.Fprintf(&b, " %s", p.styles.muted.Render("("+t.Type+")"))
	}
	b.WriteString("\n")
	for _, e := range t.Logs {
		b.WriteString(p.entryLine(e))
		b.WriteString("\n")
	}
	switch {
	case t.Output != "":
		b.WriteString(p.styles.box.Render(wordwrap.String(t.Output, p.width-4)))
		b.WriteString("\n")
	case t.Failure != "":
		b.WriteString(p.styles.failure.Render(wordwrap.String(t.Failure, p.width)))
		b.WriteString("\n")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, b.String())
}

func (p *Printer) status(s taskrun.Status) string {
	switch s {
	case taskrun.StatusCompleted:
		return p.styles.success.Render(string(s))
	case taskrun.StatusFailed:
		return p.styles.failure.Render(string(s))
	case "":
		return p.styles.warning.Render("unknown")
	}
	return p.styles.warning.Render(string(s))
}

func (p *Printer) Launch(l taskrun.Launch) {
	line := fmt.Sprintf("started task %s (%s)", l.ID, l.Preset)
	if l.Demo {
		line += " " + p.styles.warning.Render("[demo: account pending approval]")
	}
	p.println(line)
}

func (p *Printer) Presets(presets []preset.Preset) {
	for _, ps := range presets {
		req := make([]string, 0, len(ps.Required)+len(ps.Optional))
		for _, f := range ps.Required {
			req = append(req, "--"+string(f))
		}
		for _, f := range ps.Optional {
			req = append(req, "[--"+string(f)+"]")
		}
		p.println(fmt.Sprintf("%s  %s %s", p.styles.heading.Render(fmt.Sprintf("%-12s", ps.ID)), ps.Title, p.styles.muted.Render(strings.Join(req, " "))))
		if ps.Description != "" {
			p.println("              " + ps.Description)
		}
	}
}

func (p *Printer) User(u *session.User) {
	if u == nil {
		p.println("not logged in")
		return
	}
	line := fmt.Sprintf("%s  role=%s status=%s", u.Email, u.Role, u.Status)
	if !u.CreatedAt.IsZero() {
		line += "  since " + u.CreatedAt.Format("2006-01-02")
	}
	p.println(line)
	if u.Demo() {
		p.println(p.styles.warning.Render("Account pending approval: tasks run in demo mode."))
	}
}

// PendingUsers prints one line per account awaiting approval.
func (p *Printer) PendingUsers(users []session.User) {
	if len(users) == 0 {
		p.println("no accounts awaiting approval")
		return
	}
	for _, u := range users {
		line := fmt.Sprintf("%s  %s  role=%s", p.styles.heading.Render(fmt.Sprintf("%-6d", u.ID)), u.Email, u.Role)
		if !u.CreatedAt.IsZero() {
			line += p.styles.muted.Render("  since " + u.CreatedAt.Format("2006-01-02"))
		}
		p.println(line)
	}
}

func (p *Printer) Message(msg string) {
	p.println(msg)
}

func (p *Printer) Error(err error) {
	p.println(p.styles.failure.Render("error: ") + err.Error())
}
