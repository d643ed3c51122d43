package cmd

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/justapithecus/livefeed/cli/render"
	"github.com/justapithecus/livefeed/cli/tui"
	"github.com/justapithecus/livefeed/live"
	"github.com/justapithecus/livefeed/metrics"
)

// dashboard relays session activity to a --tui program. A nil
// *dashboard does nothing.
type dashboard struct {
	program *tea.Program
}

func newDashboard(dataset string, cons *consumer, collector *metrics.Collector) *dashboard {
	poll := func() tui.StatusMsg {
		state, id := cons.status()
		return tui.StatusMsg{State: state, SessionID: id, Metrics: collector.Snapshot()}
	}
	return &dashboard{program: tui.NewProgram(tui.NewStreamModel(dataset, poll))}
}

func (d *dashboard) event(e live.Event) {
	if d == nil {
		return
	}
	detail := e.SessionID
	if e.Err != nil {
		detail = e.Err.Error()
	}
	d.program.Send(tui.EventMsg{Type: string(e.Type), Detail: detail, Time: e.Time})
}

func (d *dashboard) record(v render.RecordView) {
	if d == nil {
		return
	}
	d.program.Send(tui.RecordMsg(v))
}

// run consumes in the background while the dashboard owns the terminal.
// Quitting the dashboard cancels the session.
func (d *dashboard) run(ctx context.Context, cons *consumer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		err := cons.run(ctx)
		d.program.Send(tui.DoneMsg{Err: err})
		result <- err
	}()

	go func() {
		<-ctx.Done()
		d.program.Quit()
	}()

	if _, err := d.program.Run(); err != nil {
		cancel()
		<-result
		return err
	}
	cancel()
	return <-result
}
