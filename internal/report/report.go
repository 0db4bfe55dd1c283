// Package report renders session results for the terminal or as JSON.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/colorstring"
	"github.com/rudransh-shrivastava/netspeed/internal/db"
	"github.com/rudransh-shrivastava/netspeed/internal/session"
	"github.com/rudransh-shrivastava/netspeed/internal/stats"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q, want text or json", s)
	}
}

// Writer prints one line per result. Lines from concurrent sessions are
// serialized.
type Writer struct {
	mu    sync.Mutex
	out   io.Writer
	color colorstring.Colorize
}

func NewWriter(out io.Writer, color bool) *Writer {
	return &Writer{
		out: out,
		color: colorstring.Colorize{
			Colors:  colorstring.DefaultColors,
			Disable: !color,
			Reset:   true,
		},
	}
}

func (w *Writer) Result(res session.Result) error {
	return w.println(Line(res))
}

func (w *Writer) Summary(results []session.Result) error {
	return w.println(SummaryLine(Summarize(results)))
}

func (w *Writer) Servers(servers []db.Server) error {
	if len(servers) == 0 {
		return w.println("[yellow]No servers recorded")
	}
	for _, s := range servers {
		if err := w.println(ServerLine(s)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) println(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.out, w.color.Color(s))
	return err
}

// Line is the colorstring markup for one result.
func Line(res session.Result) string {
	name := fmt.Sprintf("%s transfer #%d", res.Kind.Transport(), res.ID)
	if !res.OK() {
		return fmt.Sprintf("[red]%s failed after %s: %v", name, Seconds(res.Elapsed), res.Err)
	}

	line := fmt.Sprintf("[green]%s finished[reset], total time: %s, total speed: %s",
		name, Seconds(res.Elapsed), BitRate(res.Throughput))
	if res.Kind == session.KindUnreliable {
		line += fmt.Sprintf(", percentage of packets received successfully: %s", Percent(100-res.LossPercent))
	}
	return line
}

func SummaryLine(s stats.Summary) string {
	color := "[green]"
	if s.Failed() > 0 {
		color = "[yellow]"
	}
	if s.Succeeded == 0 {
		color = "[red]"
	}
	return fmt.Sprintf("%s[bold]%d of %d sessions succeeded[reset], %s transferred, aggregate speed %s",
		color, s.Succeeded, s.Sessions, humanize.Bytes(s.Bytes), BitRate(s.AggregateThroughput))
}

func Summarize(results []session.Result) stats.Summary {
	var s stats.Summary
	for _, r := range results {
		s.Add(r.OK(), r.Bytes, r.Throughput)
	}
	return s
}

func ServerLine(s db.Server) string {
	return fmt.Sprintf("[bold]%s[reset] tcp %d, udp %d, %d offers, last seen %s",
		s.Address, s.TCPPort, s.UDPPort, s.Offers, humanize.Time(time.Unix(s.LastSeen, 0)))
}

// BitRate formats bits per second with SI prefixes.
func BitRate(bps float64) string {
	return humanize.SIWithDigits(bps, 2, "bps")
}

func Seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f seconds", d.Seconds())
}

func Percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}
