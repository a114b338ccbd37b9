package cmd

import (
	"io"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	cmdcommon "github.com/warpdl/warpload/cmd/common"
	"github.com/warpdl/warpload/pkg/loadsched"
)

// runDisplay renders a run on the terminal. It subscribes to the scheduler
// and advances one bar per settled resource. While the bar is live, lines
// written through Writer are printed above it.
type runDisplay struct {
	out io.Writer
	p   *mpb.Progress
	bar *mpb.Bar

	mu     sync.Mutex
	eta    time.Duration
	hasETA bool

	// wmu orders log writes against stopping the bar. It is never held
	// while the bar renders.
	wmu     sync.Mutex
	stopped bool
}

func newRunDisplay(out io.Writer, total int, quiet bool) *runDisplay {
	d := &runDisplay{out: out}
	if quiet {
		d.stopped = true
		return d
	}
	d.p = mpb.New(
		mpb.WithOutput(out),
		mpb.WithWidth(40),
		mpb.WithRefreshRate(150*time.Millisecond),
	)
	d.bar = cmdcommon.InitRunBar(d.p, "", total, d.currentETA)
	return d
}

func (d *runDisplay) currentETA() (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eta, d.hasETA
}

// HandleEvent implements loadsched.Subscriber.
func (d *runDisplay) HandleEvent(ev loadsched.Event) {
	switch ev.Kind {
	case loadsched.EventProgress:
		d.mu.Lock()
		d.eta, d.hasETA = ev.Progress.ETA, true
		d.mu.Unlock()
		if d.bar != nil {
			d.bar.SetCurrent(int64(ev.Progress.Loaded + ev.Progress.Failed))
		}
	case loadsched.EventComplete:
		if d.bar != nil {
			d.bar.SetTotal(-1, true)
		}
	}
}

// Writer returns a writer for log lines.
func (d *runDisplay) Writer() io.Writer {
	return displayWriter{d}
}

// Wait blocks until the bar has rendered its final state.
func (d *runDisplay) Wait() {
	if !d.stop() {
		return
	}
	d.p.Wait()
}

// Abort drops the bar of a run that will not complete.
func (d *runDisplay) Abort() {
	if !d.stop() {
		return
	}
	d.bar.Abort(false)
	d.p.Wait()
}

func (d *runDisplay) stop() bool {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if d.stopped {
		return false
	}
	d.stopped = true
	return true
}

type displayWriter struct {
	d *runDisplay
}

func (w displayWriter) Write(b []byte) (int, error) {
	w.d.wmu.Lock()
	defer w.d.wmu.Unlock()
	if w.d.stopped {
		return w.d.out.Write(b)
	}
	return w.d.p.Write(b)
}
