// Package monitor renders the scheduler's published thread table and a
// scrolling log onto a framebuffer.
package monitor

import (
	"fmt"
	"image/color"

	"spindle/hal"
	"spindle/kernel"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"
)

const (
	fontHeight = 10
	fontOffset = 7

	defaultBacklog = 32
)

var (
	bg      = color.RGBA{A: 0xFF}
	fg      = color.RGBA{R: 0xE0, G: 0xE0, B: 0xE0, A: 0xFF}
	headFg  = color.RGBA{R: 0x60, G: 0xC0, B: 0xFF, A: 0xFF}
	curFg   = color.RGBA{R: 0x80, G: 0xFF, B: 0x80, A: 0xFF}
	ruleCol = color.RGBA{R: 0x40, G: 0x40, B: 0x50, A: 0xFF}
)

type Config struct {
	// TableRows is the number of thread rows shown; the log pane gets the
	// rest of the screen.
	TableRows int
	// Backlog bounds the log lines waiting to be drawn. Lines beyond it are
	// dropped.
	Backlog int
	// Status, when set, supplies an extra line under the table.
	Status func() string
}

type event struct {
	line    string
	refresh bool
}

// Monitor draws on behalf of a single monitor thread. Log and Refresh may
// be called from any thread or interrupt handler.
type Monitor struct {
	s   *kernel.Scheduler
	fb  hal.Framebuffer
	cfg Config

	font  tinyfont.Fonter
	table *region
	pane  *region
	term  *tinyterm.Terminal

	events  *kernel.MessageQueue[event]
	dropped int
	frames  uint64
}

// New lays out fb into a table area and a log pane.
func New(s *kernel.Scheduler, fb hal.Framebuffer, cfg Config) (*Monitor, error) {
	if cfg.TableRows <= 0 {
		cfg.TableRows = 8
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = defaultBacklog
	}
	events, err := kernel.NewMessageQueue[event](s, cfg.Backlog)
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	m := &Monitor{s: s, fb: fb, cfg: cfg, font: &proggy.TinySZ8pt7b, events: events}

	// Header, rows, status line.
	tableH := (cfg.TableRows + 2) * fontHeight
	m.table = newRegion(fb, 0, 0, fb.Width(), tableH)
	// The terminal scrolls in whole lines, so the pane holds a whole number
	// of them.
	paneH := (fb.Height() - tableH - 2) / fontHeight * fontHeight
	if paneH < fontHeight {
		return nil, fmt.Errorf("monitor: %dx%d framebuffer too small", fb.Width(), fb.Height())
	}
	m.pane = newRegion(fb, 0, tableH+2, fb.Width(), paneH)

	m.term = tinyterm.NewTerminal(m.pane)
	m.term.Configure(&tinyterm.Config{
		Font:       &proggy.TinySZ8pt7b,
		FontHeight: fontHeight,
		FontOffset: fontOffset,
	})

	fb.ClearRGB(bg.R, bg.G, bg.B)
	full := newRegion(fb, 0, 0, fb.Width(), fb.Height())
	_ = full.FillRectangle(0, int16(tableH), int16(fb.Width()), 2, ruleCol)
	return m, nil
}

// Log queues line for the log pane. It never sleeps.
func (m *Monitor) Log(line string) {
	if !m.events.TrySend(event{line: line}) {
		m.dropped++
	}
}

// Refresh requests a redraw of the thread table. It never sleeps.
func (m *Monitor) Refresh() {
	m.events.TrySend(event{refresh: true})
}

// Dropped returns the number of log lines lost to a full backlog.
func (m *Monitor) Dropped() int { return m.dropped }

func (m *Monitor) Frames() uint64 { return m.frames }

// Run is the monitor thread body. It never returns.
func (m *Monitor) Run() {
	for {
		m.handle(m.events.Receive())
		m.Step()
	}
}

// Step drains queued events without sleeping and presents a frame.
func (m *Monitor) Step() {
	for {
		ev, ok := m.events.TryReceive()
		if !ok {
			break
		}
		m.handle(ev)
	}
	m.drawTable(m.s.Debug())
	_ = m.fb.Present()
	m.frames++
}

func (m *Monitor) handle(ev event) {
	if ev.refresh {
		return
	}
	m.term.Write([]byte("\n" + ev.line))
}

func (m *Monitor) drawTable(info kernel.DebugInfo) {
	w, h := m.table.Size()
	_ = m.table.FillRectangle(0, 0, w, h, bg)

	y := int16(fontOffset)
	tinyfont.WriteLine(m.table, m.font, 2, y,
		fmt.Sprintf("%-3s %-10s %-9s %3s %6s", "ID", "THREAD", "STATE", "PRI", "STACK"), headFg)

	rows := 0
	for _, ti := range info.Threads {
		if rows == m.cfg.TableRows {
			break
		}
		y += fontHeight
		c := fg
		if ti.ID == info.Current {
			c = curFg
		}
		tinyfont.WriteLine(m.table, m.font, 2, y, formatRow(ti), c)
		rows++
	}

	y = int16((m.cfg.TableRows+1)*fontHeight + fontOffset)
	status := fmt.Sprintf("threads %d  switches %d  dropped %d", info.Count, info.Switches, m.dropped)
	if m.cfg.Status != nil {
		status += "  " + m.cfg.Status()
	}
	tinyfont.WriteLine(m.table, m.font, 2, y, status, headFg)
}

func formatRow(ti kernel.ThreadInfo) string {
	name := ti.Name
	if len(name) > 10 {
		name = name[:10]
	}
	state := ti.State.String()
	if ti.Queued {
		state += "*"
	}
	return fmt.Sprintf("%-3d %-10s %-9s %3d %6d", ti.ID, name, state, ti.Priority, ti.StackSize)
}
