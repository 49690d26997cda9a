// Package ux presents pipeline runs in the terminal: a live stream viewer
// for watch mode and a plain report renderer for everything else. The
// viewer consumes the streaming chunks one update cycle at a time, so the
// producer's acknowledgement discipline reaches all the way to the screen.
package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"forgefix/internal/agents"
	"forgefix/internal/pipeline"
)

// =============================================================================
// VIEWER
// =============================================================================

// Viewer drives one diagnosis with the live terminal view attached.
type Viewer struct {
	driver *pipeline.Driver
	styles Styles
	out    io.Writer
}

// NewViewer wraps a pipeline driver with the live stream view.
func NewViewer(driver *pipeline.Driver) *Viewer {
	return &Viewer{driver: driver, styles: DefaultStyles(), out: os.Stdout}
}

// Run executes the streaming analysis with the viewer attached and blocks
// until both the pipeline and the program have ended. The report and error
// are the pipeline's own; quitting the view early cancels the run and the
// report carries whatever stages completed.
func (v *Viewer) Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks := make(chan agents.Chunk)
	done := make(chan struct{})

	var (
		rep    *pipeline.Report
		runErr error
	)

	m := newWatchModel(v.styles, chunks, req.Resource)
	p := tea.NewProgram(m, tea.WithOutput(v.out), tea.WithContext(runCtx))

	go func() {
		defer close(done)
		r, err := v.driver.AnalyzeStream(runCtx, req, func(c agents.Chunk) {
			select {
			case chunks <- c:
			case <-runCtx.Done():
			}
		})
		close(chunks)
		rep, runErr = r, err
		p.Send(runFinishedMsg{report: r, err: err})
	}()

	_, uiErr := p.Run()
	cancel()
	<-done

	if runErr == nil && uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return rep, uiErr
	}
	return rep, runErr
}

// =============================================================================
// WATCH MODEL
// =============================================================================

// Messages for tea updates.
type (
	chunkMsg       agents.Chunk
	runFinishedMsg struct {
		report *pipeline.Report
		err    error
	}
)

// roleState tracks one expert's progress through the stream.
type roleState int

const (
	rolePending roleState = iota
	roleRunning
	roleDone
	roleFailed
)

const (
	okMark   = "✓"
	failMark = "✗"
	idleMark = "·"
)

type watchModel struct {
	styles Styles
	spin   spinner.Model

	resource string
	chunks   <-chan agents.Chunk

	status map[agents.Role]roleState
	notes  map[agents.Role]string
	fix    *agents.FixChunk
	title  string

	report   *pipeline.Report
	runErr   error
	finished bool
	final    string

	width int
}

func newWatchModel(styles Styles, chunks <-chan agents.Chunk, resource string) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	status := make(map[agents.Role]roleState, len(agents.Order))
	for _, role := range agents.Order {
		status[role] = rolePending
	}

	return watchModel{
		styles:   styles,
		spin:     sp,
		resource: resource,
		chunks:   chunks,
		status:   status,
		notes:    make(map[agents.Role]string, len(agents.Order)),
		width:    80,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.waitForChunk())
}

// waitForChunk pumps the next chunk into the update loop. One receive per
// rendered update is what the producer's backpressure keys on: it stays
// parked until the previous chunk has passed through Update.
func (m watchModel) waitForChunk() tea.Cmd {
	return func() tea.Msg {
		c, ok := <-m.chunks
		if !ok {
			return nil
		}
		return chunkMsg(c)
	}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
		}

	case spinner.TickMsg:
		if !m.finished {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			return m, cmd
		}

	case chunkMsg:
		m.absorb(agents.Chunk(msg))
		return m, m.waitForChunk()

	case runFinishedMsg:
		m.finished = true
		m.report = msg.report
		m.runErr = msg.err
		m.final = m.renderFinal()
		return m, tea.Quit
	}

	return m, nil
}

// absorb folds one chunk into the display state.
func (m *watchModel) absorb(c agents.Chunk) {
	switch c.Type {
	case agents.ChunkStatus:
		m.status[c.Agent] = roleRunning
	case agents.ChunkAgent:
		m.status[c.Agent] = roleDone
		m.notes[c.Agent] = chunkNote(c)
	case agents.ChunkFix:
		m.fix = c.Fix
	case agents.ChunkError:
		m.status[c.Agent] = roleFailed
		m.notes[c.Agent] = c.Message
	case agents.ChunkDone:
		m.title = c.Message
	}
}

// chunkNote extracts the one-line result shown next to a finished role.
func chunkNote(c agents.Chunk) string {
	switch c.Agent {
	case agents.RoleLogAnalyst:
		parts := make([]string, 0, 2)
		if v := stringField(c.Payload, "failureType"); v != "" {
			parts = append(parts, v)
		}
		if v := stringField(c.Payload, "severity"); v != "" {
			parts = append(parts, v)
		}
		return strings.Join(parts, " / ")
	case agents.RoleWorkflowExpert:
		return stringField(c.Payload, "issueType")
	case agents.RoleCodeReviewer:
		if score, ok := numberField(c.Payload, "overallScore"); ok {
			return fmt.Sprintf("score %d/100", int(score))
		}
	case agents.RoleFixGenerator:
		if conf, ok := numberField(c.Payload, "confidence"); ok {
			return fmt.Sprintf("confidence %.2f", conf)
		}
	}
	return ""
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func numberField(payload map[string]interface{}, key string) (float64, bool) {
	v, ok := payload[key].(float64)
	return v, ok
}

// =============================================================================
// VIEW
// =============================================================================

func (m watchModel) View() string {
	// The final frame stays in the terminal after the program exits.
	if m.finished {
		return m.final
	}

	var sb strings.Builder
	sb.WriteString(m.renderHeader())
	sb.WriteString("\n\n")

	for _, role := range agents.Order {
		sb.WriteString(m.renderRole(role))
		sb.WriteString("\n")
	}

	if m.fix != nil {
		sb.WriteString("\n")
		sb.WriteString(m.styles.Muted.Render(fmt.Sprintf("  fix %s:%d", m.fix.File, m.fix.Line)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.styles.Muted.Render("  esc to cancel"))
	sb.WriteString("\n")
	return sb.String()
}

func (m watchModel) renderHeader() string {
	header := m.styles.Header.Render(" forgefix ")
	if m.resource != "" {
		header += "  " + m.styles.Muted.Render(m.resource)
	}
	return header
}

func (m watchModel) renderRole(role agents.Role) string {
	// Pad before styling: ANSI sequences would break %-16s alignment.
	padded := fmt.Sprintf("%-16s", role.DisplayName())

	var mark, name string
	switch m.status[role] {
	case roleRunning:
		mark = m.spin.View()
		name = m.styles.Bold.Render(padded)
	case roleDone:
		mark = m.styles.Success.Render(okMark)
		name = padded
	case roleFailed:
		mark = m.styles.Error.Render(failMark)
		name = padded
	default:
		mark = m.styles.Muted.Render(idleMark)
		name = m.styles.Muted.Render(padded)
	}

	line := "  " + mark + " " + name
	if note := m.notes[role]; note != "" {
		line += " " + m.styles.Muted.Render(note)
	}
	return line
}

// renderFinal produces the last frame: the full report through glamour, or
// the partial findings with the failure underneath.
func (m watchModel) renderFinal() string {
	if m.report == nil {
		if m.runErr != nil {
			return m.styles.Error.Render(failMark+" "+m.runErr.Error()) + "\n"
		}
		return ""
	}

	out := renderMarkdown(Markdown(m.report), m.width)
	if m.runErr != nil {
		out += m.styles.Error.Render(failMark+" "+m.runErr.Error()) + "\n"
	}
	return out
}
