package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"dbquery/internal/config"
	"dbquery/internal/copilot"
	"dbquery/internal/logging"
	"dbquery/internal/session"
	"dbquery/internal/sqlgen"
	"dbquery/internal/store"
)

const (
	maxTableRows   = 50
	maxLogEntries  = 50
	exportsDirName = "exports"
)

type view int

const (
	consoleView view = iota
	reviewView
	scriptView
)

type canvasTab int

const (
	tableTab canvasTab = iota
	chartTab
	pptTab
	pdfTab
	logsTab
)

var canvasTabs = []string{"Table", "Chart", "PPT", "PDF", "Logs"}

func (t canvasTab) String() string {
	return canvasTabs[t]
}

type model struct {
	svc           *copilot.Service
	sess          *session.Session
	logger        *zap.Logger
	currentView   view
	tab           canvasTab
	promptInput   textinput.Model
	viewport      viewport.Model
	width         int
	height        int
	viewportReady bool
	busy          string
	status        string
	err           error
}

// snapshot is a copy of the session fields the console renders
type snapshot struct {
	demo      bool
	theme     string
	sql       string
	rationale string
	source    string
	lastError string
	result    *store.Result
	pinned    []session.Insight
	history   []string
}

type generateMsg struct {
	gen *sqlgen.Generation
	err error
}

type refineMsg struct {
	sql string
	err error
}

type executeMsg struct {
	rows int
	err  error
}

type savedMsg struct {
	what string
	path string
	err  error
}

func generateSQL(svc *copilot.Service, sess *session.Session, prompt string) tea.Cmd {
	return func() tea.Msg {
		gen, err := svc.GenerateSQL(context.Background(), sess, prompt)
		return generateMsg{gen: gen, err: err}
	}
}

func refineSQL(svc *copilot.Service, sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		sql, err := svc.RefineSQL(context.Background(), sess)
		return refineMsg{sql: sql, err: err}
	}
}

func executeSQL(svc *copilot.Service, sess *session.Session) tea.Cmd {
	return func() tea.Msg {
		res, err := svc.Execute(context.Background(), sess)
		return executeMsg{rows: res.Len(), err: err}
	}
}

// saveFile writes to <data-dir>/exports/name using write
func saveFile(svc *copilot.Service, what, name string, write func(f *os.File) error) tea.Cmd {
	return func() tea.Msg {
		dir := filepath.Join(svc.DataDir(), exportsDirName)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return savedMsg{what: what, err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			return savedMsg{what: what, err: fmt.Errorf("failed to create file: %w", err)}
		}
		if err := write(f); err != nil {
			f.Close()
			os.Remove(path)
			return savedMsg{what: what, err: err}
		}
		if err := f.Close(); err != nil {
			return savedMsg{what: what, err: fmt.Errorf("failed to write file: %w", err)}
		}
		return savedMsg{what: what, path: path}
	}
}

func exportDeck(svc *copilot.Service, sess *session.Session) tea.Cmd {
	return saveFile(svc, "Deck", svc.DeckFileName(), func(f *os.File) error {
		return svc.ExportPinned(sess, f)
	})
}

func saveCSV(svc *copilot.Service, sess *session.Session) tea.Cmd {
	return saveFile(svc, "CSV", svc.ResultFileName(), func(f *os.File) error {
		return svc.LastResultCSV(sess, f)
	})
}

func initialModel(svc *copilot.Service, sess *session.Session, logger *zap.Logger) model {
	ti := textinput.New()
	ti.Placeholder = "Ask about vendors, batches or shipments (e.g. Show top 5 vendors in US by on-time delivery rate)"
	ti.Focus()
	ti.CharLimit = 500
	ti.Width = 80

	vp := viewport.New(80, 20)
	vp.Style = lipgloss.NewStyle()

	return model{
		svc:         svc,
		sess:        sess,
		logger:      logging.OrNop(logger),
		currentView: consoleView,
		tab:         tableTab,
		promptInput: ti,
		viewport:    vp,
	}
}

func (m model) Init() tea.Cmd {
	return textinput.Blink
}

func (m model) snapshot() snapshot {
	m.sess.Lock()
	defer m.sess.Unlock()
	return snapshot{
		demo:      m.sess.DemoMode,
		theme:     m.sess.Theme,
		sql:       m.sess.GeneratedSQL,
		rationale: m.sess.Rationale,
		source:    m.sess.Source,
		lastError: m.sess.LastError,
		result:    m.sess.LastResult,
		pinned:    m.sess.PinnedNewestFirst(),
		history:   m.sess.RecentHistory(maxLogEntries),
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.promptInput.Width = msg.Width - 6

		// Reserve lines for the header, prompt box, SQL panel, tabs, status and help
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 16
		if m.viewport.Height < 5 {
			m.viewport.Height = 5
		}
		m.viewportReady = true
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		if m.currentView != consoleView {
			return m.handleDocumentKeys(msg)
		}
		return m.handleConsoleKeys(msg)

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case generateMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError(msg.err, "Generate failed")
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("SQL generated (%s). Ctrl+K to review, Ctrl+X to execute.", msg.gen.Source)

	case refineMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError(msg.err, "Refine failed")
			return m, nil
		}
		m.err = nil
		m.status = "SQL refined."

	case executeMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError(msg.err, "Execute failed")
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("Query returned %d rows.", msg.rows)
		m.tab = tableTab
		m.viewport.GotoTop()

	case savedMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError(msg.err, msg.what+" export failed")
			return m, nil
		}
		m.err = nil
		m.status = fmt.Sprintf("%s saved to %s", msg.what, msg.path)
		m.logger.Info("Export saved", zap.String("kind", msg.what), zap.String("path", msg.path))
	}

	m.refreshViewport()

	var cmd tea.Cmd
	if m.currentView == consoleView {
		m.promptInput, cmd = m.promptInput.Update(msg)
	}
	return m, cmd
}

func (m *model) setError(err error, message string) {
	m.err = err
	m.status = ""
	m.logger.Warn(message, zap.Error(err), zap.String("session", m.sess.ID))
	m.refreshViewport()
}

func (m model) handleConsoleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyEnter:
		if m.busy != "" {
			return m, nil
		}
		prompt := strings.TrimSpace(m.promptInput.Value())
		if prompt == "" {
			m.err = copilot.ErrEmptyPrompt
			return m, nil
		}
		m.busy = "Generating SQL..."
		m.err = nil
		return m, generateSQL(m.svc, m.sess, prompt)

	case tea.KeyCtrlR:
		if m.busy != "" {
			return m, nil
		}
		m.busy = "Refining SQL..."
		return m, refineSQL(m.svc, m.sess)

	case tea.KeyCtrlL:
		m.svc.Clear(m.sess)
		m.promptInput.SetValue("")
		m.err = nil
		m.status = "Cleared."
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlK:
		m.currentView = reviewView
		m.viewport.GotoTop()
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlO:
		m.currentView = scriptView
		m.viewport.GotoTop()
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlX:
		if m.busy != "" {
			return m, nil
		}
		m.busy = "Executing..."
		return m, executeSQL(m.svc, m.sess)

	case tea.KeyCtrlP:
		ins, err := m.svc.Pin(m.sess)
		if err != nil {
			m.setError(err, "Pin failed")
			return m, nil
		}
		m.err = nil
		m.status = "Pinned " + ins.Title
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlE:
		if len(m.svc.Pinned(m.sess)) == 0 {
			m.err = copilot.ErrNothingToSave
			return m, nil
		}
		m.busy = "Exporting deck..."
		return m, exportDeck(m.svc, m.sess)

	case tea.KeyCtrlS:
		if m.svc.LastResult(m.sess) == nil {
			m.err = copilot.ErrNothingToSave
			return m, nil
		}
		m.busy = "Saving CSV..."
		return m, saveCSV(m.svc, m.sess)

	case tea.KeyCtrlD:
		demo := !m.snapshot().demo
		m.svc.SetDemoMode(m.sess, demo)
		if demo {
			m.status = "Demo mode on: demo generator, warehouse and grounding."
		} else {
			m.status = "Demo mode off: configured LLM and Databricks warehouse."
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlT:
		applied := m.svc.SetTheme(m.sess, config.NextTheme(m.snapshot().theme))
		m.status = "Theme: " + applied
		m.refreshViewport()
		return m, nil

	case tea.KeyTab:
		m.tab = (m.tab + 1) % canvasTab(len(canvasTabs))
		m.viewport.GotoTop()
		m.refreshViewport()
		return m, nil

	case tea.KeyShiftTab:
		m.tab = (m.tab + canvasTab(len(canvasTabs)) - 1) % canvasTab(len(canvasTabs))
		m.viewport.GotoTop()
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlY:
		if sql := m.snapshot().sql; sql != "" {
			if err := clipboard.WriteAll(sql); err != nil {
				m.setError(err, "Clipboard copy failed")
				return m, nil
			}
			m.status = "SQL copied to clipboard."
		}
		return m, nil

	// Scrolling keys
	case tea.KeyPgUp, tea.KeyPgDown:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	m.promptInput, cmd = m.promptInput.Update(msg)
	return m, cmd
}

// handleDocumentKeys serves the review and demo script pages
func (m model) handleDocumentKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.Type {
	case tea.KeyEsc, tea.KeyCtrlC:
		m.currentView = consoleView
		m.viewport.GotoTop()
		m.refreshViewport()
		return m, nil

	case tea.KeyCtrlX:
		if m.currentView == reviewView && m.busy == "" {
			m.currentView = consoleView
			m.busy = "Executing..."
			return m, executeSQL(m.svc, m.sess)
		}
		return m, nil

	case tea.KeyCtrlY:
		if sql := m.snapshot().sql; sql != "" {
			_ = clipboard.WriteAll(sql)
			m.status = "SQL copied to clipboard."
		}
		return m, nil

	case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown, tea.KeyHome, tea.KeyEnd:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	return m, nil
}

// refreshViewport loads the content of the current page or canvas tab
func (m *model) refreshViewport() {
	if !m.viewportReady {
		return
	}

	switch m.currentView {
	case reviewView:
		m.viewport.SetContent(m.markdown(reviewMarkdown(m.svc.Review(m.sess))))
	case scriptView:
		m.viewport.SetContent(m.markdown(m.svc.DemoScript()))
	default:
		m.viewport.SetContent(m.canvasContent(m.snapshot()))
	}
}

func (m model) markdown(content string) string {
	rendered, err := renderMarkdown(content, m.width)
	if err != nil {
		m.logger.Warn("Failed to render markdown", zap.Error(err))
		return content
	}
	return rendered
}

// reviewMarkdown formats a review for glamour
func reviewMarkdown(r copilot.Review) string {
	var b strings.Builder
	b.WriteString("# Review\n\n")
	if r.Source != "" {
		fmt.Fprintf(&b, "**Source:** %s\n\n", r.Source)
	}
	b.WriteString("## SQL\n\n```sql\n")
	if r.SQL != "" {
		b.WriteString(r.SQL)
	} else {
		b.WriteString("-- no SQL generated yet")
	}
	b.WriteString("\n```\n\n## Rationale\n\n")
	b.WriteString(r.Rationale)
	b.WriteString("\n\n## Checks\n\n")
	for _, n := range r.Notes {
		b.WriteString("- " + n + "\n")
	}
	if !r.ReadOnly {
		b.WriteString("\n> **Warning:** this query writes to the warehouse.\n")
	}
	return b.String()
}

func (m model) canvasContent(s snapshot) string {
	_, p := config.Theme(s.theme)
	accent := lipgloss.Color(p.Accent)
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted))

	switch m.tab {
	case chartTab:
		if s.result == nil {
			return muted.Render("No results yet. Generate SQL (Enter) and execute it (Ctrl+X).")
		}
		return ResultChart(s.result, m.width, accent)

	case pptTab:
		if len(s.pinned) == 0 {
			return muted.Render("No pinned insights. Execute a query and press Ctrl+P to pin it.")
		}
		var b strings.Builder
		b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(accent).Render(
			fmt.Sprintf("%d pinned insights (Ctrl+E exports %d slides)", len(s.pinned), len(s.pinned)+1)))
		b.WriteString("\n\n")
		for _, ins := range s.pinned {
			chart := "table only"
			if ins.Chart != nil {
				chart = fmt.Sprintf("%s chart of %s by %s", ins.Chart.Type, ins.Chart.Y, ins.Chart.X)
			}
			fmt.Fprintf(&b, "• %s: %d rows, %s\n", ins.Title, ins.Result.Len(), chart)
			b.WriteString(muted.Render("  " + firstLine(ins.Summary)))
			b.WriteString("\n")
		}
		return b.String()

	case pdfTab:
		return m.groundingFiles(muted)

	case logsTab:
		if len(s.history) == 0 {
			return muted.Render("No activity yet.")
		}
		return strings.Join(s.history, "\n")

	default:
		if s.result == nil {
			return muted.Render("No results yet. Generate SQL (Enter) and execute it (Ctrl+X).")
		}
		return renderResultTable(s.result, p)
	}
}

// groundingFiles lists the uploaded grounding documents. Documents are not previewed.
func (m model) groundingFiles(muted lipgloss.Style) string {
	entries, err := os.ReadDir(m.svc.UploadDir())
	if err != nil || len(entries) == 0 {
		return muted.Render("No grounding files uploaded. Use `dbquery ground add <file>` or the web console.")
	}

	var b strings.Builder
	b.WriteString(muted.Render("Document preview is not available in the console. Grounding files:"))
	b.WriteString("\n\n")
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		size := ""
		if info, err := e.Info(); err == nil {
			size = fmt.Sprintf(" (%d KB)", (info.Size()+1023)/1024)
		}
		fmt.Fprintf(&b, "• %s%s\n", e.Name(), size)
	}
	return b.String()
}

// renderResultTable renders up to maxTableRows rows with lipgloss
func renderResultTable(r *store.Result, p config.Palette) string {
	if r.IsMessage() {
		return r.Text()
	}
	if r.Len() == 0 {
		return "Query returned no rows."
	}

	head := r.Head(maxTableRows)
	rows := make([][]string, 0, head.Len())
	for _, row := range head.Rows {
		cells := make([]string, len(r.Columns))
		for i := range cells {
			if i < len(row) {
				cells[i] = store.Cell(row[i])
			}
		}
		rows = append(rows, cells)
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(p.Accent)).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Text)).Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted))).
		Headers(r.Columns...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	out := t.Render()
	if r.Len() > maxTableRows {
		out += fmt.Sprintf("\nShowing %d of %d rows. Ctrl+S saves the full result as CSV.", maxTableRows, r.Len())
	}
	return out
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "--") {
			return line
		}
	}
	return strings.TrimSpace(s)
}

func (m model) View() string {
	if !m.viewportReady {
		return "Loading..."
	}
	if m.currentView != consoleView {
		return m.documentRender()
	}
	return m.consoleRender()
}

func (m model) header(s snapshot, p config.Palette) string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(p.Accent))

	mode := "REAL"
	modeColor := lipgloss.Color("214")
	if s.demo {
		mode = "DEMO"
		modeColor = lipgloss.Color("82")
	}
	badge := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(p.Background)).
		Background(modeColor).
		Padding(0, 1).
		Render(mode)

	info := lipgloss.NewStyle().
		Foreground(lipgloss.Color(p.Muted)).
		Render(fmt.Sprintf("  %s | %d pinned", s.theme, len(s.pinned)))

	return titleStyle.Render("💊 DBQuery Copilot") + "  " + badge + info
}

func (m model) consoleRender() string {
	s := m.snapshot()
	_, p := config.Theme(s.theme)

	var b strings.Builder

	b.WriteString(m.header(s, p))
	b.WriteString("\n\n")

	// Prompt input
	inputStyle := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(p.Accent)).
		Padding(0, 1)
	b.WriteString(inputStyle.Render(m.promptInput.View()))
	b.WriteString("\n")

	// Generated SQL
	sqlStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Text))
	mutedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(p.Muted))
	if s.sql != "" {
		b.WriteString(sqlStyle.Render("SQL: " + oneLine(s.sql, m.width-6)))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("Why: " + oneLine(s.rationale, m.width-6)))
	} else {
		b.WriteString(mutedStyle.Render("SQL: (none yet, press Enter to generate)"))
		b.WriteString("\n")
	}
	b.WriteString("\n\n")

	// Canvas tabs
	var tabs []string
	for i, name := range canvasTabs {
		style := lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color(p.Muted))
		if canvasTab(i) == m.tab {
			style = style.Bold(true).Foreground(lipgloss.Color(p.Background)).Background(lipgloss.Color(p.Accent))
		}
		tabs = append(tabs, style.Render(name))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(m.statusLine(s))

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	help := "Enter: Generate | Ctrl+R: Refine | Ctrl+L: Clear | Ctrl+K: Review | Ctrl+X: Execute | Ctrl+P: Pin | Ctrl+E: Export PPT | Ctrl+S: CSV\n" +
		"Tab: Canvas | Ctrl+D: Demo mode | Ctrl+T: Theme | Ctrl+Y: Copy SQL | Ctrl+O: Demo script | PgUp/PgDn: Scroll | Esc: Quit"
	b.WriteString(helpStyle.Render(help))

	return b.String()
}

func (m model) statusLine(s snapshot) string {
	var b strings.Builder

	if m.busy != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true).Render("⏳ " + m.busy))
		b.WriteString("\n")
	}

	if m.status != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("✓ " + m.status))
		b.WriteString("\n")
	}

	if m.err != nil {
		msg := m.err.Error()
		if errors.Is(m.err, copilot.ErrNotConfigured) {
			msg += " (open the settings cockpit in the web console or set ANTHROPIC_API_KEY)"
		} else if s.lastError != "" && !s.demo {
			msg += " (Ctrl+R asks the LLM to correct the query)"
		}
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("❌ Error: " + msg))
		b.WriteString("\n")
	}

	return b.String()
}

func (m model) documentRender() string {
	var b strings.Builder

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	// Add scroll indicator if content is scrollable
	if m.viewport.TotalLineCount() > m.viewport.Height {
		scrollPercent := int(m.viewport.ScrollPercent() * 100)
		b.WriteString(lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Render(fmt.Sprintf("─── %d%% ───", scrollPercent)))
		b.WriteString("\n")
	}

	b.WriteString(m.statusLine(m.snapshot()))

	help := "↑/↓/PgUp/PgDn: Scroll | Ctrl+Y: Copy SQL | Esc: Back"
	if m.currentView == reviewView {
		help = "↑/↓/PgUp/PgDn: Scroll | Ctrl+X: Execute | Ctrl+Y: Copy SQL | Esc: Back"
	}
	b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(help))

	return b.String()
}

// oneLine collapses whitespace and cuts s to width runes
func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width < 10 {
		width = 10
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
