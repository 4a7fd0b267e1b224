// Package tui renders a live terminal dashboard for a running Scheduler:
// a progress bar driven by EventProgress, a queued/unqueued block counter,
// and a scrolling log of frame lifecycle events.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/df07/render-scheduler/pkg/renderconfig"
	"github.com/df07/render-scheduler/pkg/scheduler"
)

const maxLogLines = 12

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
)

type queuedMsg scheduler.Event
type unqueuedMsg scheduler.Event
type progressMsg scheduler.Event
type doneMsg scheduler.Event

type model struct {
	sched *scheduler.Scheduler
	cfg   renderconfig.Config

	queuedCh   <-chan scheduler.Event
	unqueuedCh <-chan scheduler.Event
	progressCh <-chan scheduler.Event
	doneCh     <-chan scheduler.Event

	bar             progress.Model
	inFlight        int
	done, total     int
	frames          int
	lastFrameMillis int64
	log             []string
}

// Run starts the dashboard and blocks until the user quits (q/ctrl+c). It
// also kicks off an initial Start(cfg) against sched.
func Run(sched *scheduler.Scheduler, cfg renderconfig.Config) error {
	m := model{
		sched:      sched,
		cfg:        cfg,
		queuedCh:   sched.Subscribe(scheduler.EventQueued),
		unqueuedCh: sched.Subscribe(scheduler.EventUnqueued),
		progressCh: sched.Subscribe(scheduler.EventProgress),
		doneCh:     sched.Subscribe(scheduler.EventDone),
		bar:        progress.New(progress.WithDefaultGradient()),
	}
	_, err := tea.NewProgram(m).Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		startFrame(m.sched, m.cfg),
		waitForQueued(m.queuedCh),
		waitForUnqueued(m.unqueuedCh),
		waitForProgress(m.progressCh),
		waitForDone(m.doneCh),
	)
}

func startFrame(sched *scheduler.Scheduler, cfg renderconfig.Config) tea.Cmd {
	return func() tea.Msg {
		_ = sched.Start(context.Background(), cfg)
		return nil
	}
}

func waitForQueued(ch <-chan scheduler.Event) tea.Cmd {
	return func() tea.Msg { return queuedMsg(<-ch) }
}

func waitForUnqueued(ch <-chan scheduler.Event) tea.Cmd {
	return func() tea.Msg { return unqueuedMsg(<-ch) }
}

func waitForProgress(ch <-chan scheduler.Event) tea.Cmd {
	return func() tea.Msg { return progressMsg(<-ch) }
}

func waitForDone(ch <-chan scheduler.Event) tea.Cmd {
	return func() tea.Msg { return doneMsg(<-ch) }
}

func (m model) appendLog(line string) model {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
	return m
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = msg.Width - 4
		return m, nil

	case queuedMsg:
		m.inFlight++
		return m, waitForQueued(m.queuedCh)

	case unqueuedMsg:
		m.inFlight--
		m = m.appendLog(fmt.Sprintf("block %d returned to the pending queue", msg.Block.ID))
		return m, waitForUnqueued(m.unqueuedCh)

	case progressMsg:
		m.inFlight--
		m.done = msg.Done
		m.total = msg.Total
		var cmd tea.Cmd
		if m.total > 0 {
			cmd = m.bar.SetPercent(float64(m.done) / float64(m.total))
		}
		return m, tea.Batch(cmd, waitForProgress(m.progressCh))

	case doneMsg:
		m.frames++
		m.lastFrameMillis = msg.DurationMS
		m = m.appendLog(fmt.Sprintf("frame %d completed in %dms", m.frames, msg.DurationMS))
		return m, waitForDone(m.doneCh)

	case progress.FrameMsg:
		newModel, cmd := m.bar.Update(msg)
		m.bar = newModel.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder

	fmt.Fprintln(&b, titleStyle.Render(fmt.Sprintf("renderd — %dx%d, block %d, aa %d", m.cfg.Width, m.cfg.Height, m.cfg.BlockSize, m.cfg.AntiAlias)))
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, m.bar.View())
	fmt.Fprintln(&b, dimStyle.Render(fmt.Sprintf("done %d/%d  in-flight %d  frames %d", m.done, m.total, m.inFlight, m.frames)))
	if m.frames > 0 {
		fmt.Fprintln(&b, okStyle.Render(fmt.Sprintf("last frame: %s", time.Duration(m.lastFrameMillis)*time.Millisecond)))
	}
	fmt.Fprintln(&b)
	for _, line := range m.log {
		fmt.Fprintln(&b, dimStyle.Render(line))
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, dimStyle.Render("q to quit"))

	return b.String()
}
