// Package status renders connection state for a human watching the terminal.
package status

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"sessionlink/internal/hub"
	"sessionlink/pkg/interfaces"
	"sessionlink/pkg/types"
)

// palette color-codes each state
var palette = map[types.StatusKind]*color.Color{
	types.StatusConnected:    color.New(color.FgGreen, color.Bold),
	types.StatusDisconnected: color.New(color.FgRed),
	types.StatusReconnecting: color.New(color.FgYellow),
	types.StatusTimeout:      color.New(color.FgMagenta),
	types.StatusError:        color.New(color.FgRed, color.Bold),
	types.StatusExpired:      color.New(color.FgHiBlack),
	types.StatusFailed:       color.New(color.FgHiRed, color.Bold, color.Underline),
}

// Indicator is a single-line status display. A status with Dismiss set hides
// itself after that long; any other status stays until replaced.
type Indicator struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	now     func() time.Time

	current types.Status
	visible bool
	seq     uint64
	timer   *time.Timer
}

// NewIndicator writes status lines to out
func NewIndicator(out io.Writer, noColor bool) *Indicator {
	return &Indicator{out: out, noColor: noColor, now: time.Now}
}

var _ interfaces.Presenter = (*Indicator)(nil)

// Present replaces the displayed status
func (i *Indicator) Present(s types.Status) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.seq++
	i.current = s
	i.visible = true

	fmt.Fprintf(i.out, "%s %s\n", i.now().Format("15:04:05"), i.render(s))

	if s.Dismiss > 0 {
		seq := i.seq
		i.timer = time.AfterFunc(s.Dismiss, func() { i.dismiss(seq) })
	}
}

func (i *Indicator) render(s types.Status) string {
	label := fmt.Sprintf("[%s]", s.Kind)
	c, ok := palette[s.Kind]
	if !ok || i.noColor {
		return label + " " + s.Message
	}
	return c.Sprint(label) + " " + s.Message
}

func (i *Indicator) dismiss(seq uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	// A newer status replaced this one already
	if seq != i.seq {
		return
	}
	i.visible = false
	i.timer = nil
}

// Current returns the last presented status and whether it is still shown
func (i *Indicator) Current() (types.Status, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.current, i.visible
}

// Stop cancels a pending auto-dismiss
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}

// Observer forwards status events from the hub to p
func Observer(p interfaces.Presenter) hub.Observer {
	return hub.ObserverFunc(func(e hub.Event) {
		if e.Kind == hub.EventStatus {
			p.Present(e.Status)
		}
	})
}
