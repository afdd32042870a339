package main

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"github.com/postalsys/poping/internal/chaos"
	"github.com/postalsys/poping/internal/icmp"
	"github.com/postalsys/poping/internal/ping"
	"github.com/postalsys/poping/internal/server"
)

// renderer writes console output. Styles are plain unless out is a terminal.
type renderer struct {
	out io.Writer
	err io.Writer

	good lipgloss.Style
	bad  lipgloss.Style
	dim  lipgloss.Style
	bold lipgloss.Style
}

func newRenderer() *renderer {
	return newRendererTo(os.Stdout, os.Stderr, term.IsTerminal(int(os.Stdout.Fd())))
}

func newRendererTo(out, errOut io.Writer, styled bool) *renderer {
	r := &renderer{
		out:  out,
		err:  errOut,
		good: lipgloss.NewStyle(),
		bad:  lipgloss.NewStyle(),
		dim:  lipgloss.NewStyle(),
		bold: lipgloss.NewStyle(),
	}
	if styled {
		r.good = r.good.Foreground(lipgloss.Color("42"))
		r.bad = r.bad.Foreground(lipgloss.Color("196"))
		r.dim = r.dim.Foreground(lipgloss.Color("241"))
		r.bold = r.bold.Bold(true)
	}
	return r
}

func (r *renderer) sent(size int, dst net.IP) {
	fmt.Fprintln(r.out, r.dim.Render(fmt.Sprintf("sent %s to %s", humanize.Bytes(uint64(size)), dst)))
}

func (r *renderer) reply(rep *ping.Reply) {
	msg := rep.Message
	fmt.Fprintln(r.out, r.good.Render(fmt.Sprintf("reply: id=0x%04x, seq=%d, payload=%q",
		msg.Identifier, msg.Sequence, string(msg.Payload))))
	fmt.Fprintf(r.out, "checksum (reply) = 0x%04x\n", rep.Checksum)
	fmt.Fprintln(r.out, r.dim.Render(fmt.Sprintf("%s from %s in %s",
		rep.Type, rep.Source, rep.RTT.Round(time.Microsecond))))
}

func (r *renderer) failure(err error) {
	var line string
	switch {
	case icmp.IsDecodeError(err):
		line = fmt.Sprintf("decode error: %v", err)
	case errors.Is(err, ping.ErrTimeout):
		line = fmt.Sprintf("timeout: %v", err)
	default:
		line = fmt.Sprintf("error: %v", err)
	}
	fmt.Fprintln(r.err, r.bad.Render(line))
}

func (r *renderer) summary(dst net.IP, s ping.Stats) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.bold.Render(fmt.Sprintf("--- %s echo statistics ---", dst)))
	fmt.Fprintf(r.out, "%d sent, %d received, %d failed, %.1f%% loss\n",
		s.Sent, s.Received, s.Failed, s.Loss()*100)
	if s.Received > 0 {
		fmt.Fprintf(r.out, "rtt min/avg/max = %s/%s/%s\n",
			s.MinRTT.Round(time.Microsecond),
			s.AvgRTT.Round(time.Microsecond),
			s.MaxRTT.Round(time.Microsecond))
	}
}

func (r *renderer) listening(network string, addr net.Addr, replying bool) {
	mode := "observe only"
	if replying {
		mode = "answering requests"
	}
	fmt.Fprintln(r.out, r.bold.Render(fmt.Sprintf("ICMP server: waiting for echo messages on %s (%s, %s)", addr, network, mode)))
}

func (r *renderer) observation(obs server.Observation) {
	fmt.Fprintf(r.out, "from %s: %s id=0x%04x seq=%d payload=%q\n",
		obs.Source, obs.Type, obs.Identifier, obs.Sequence, string(obs.Payload))
}

func (r *renderer) serverSummary(s server.Stats) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.dim.Render(fmt.Sprintf("%d received, %d observed, %d discarded, %d replied",
		s.Received, s.Observed, s.Discarded, s.Replied)))
}

func (r *renderer) faults(hits map[chaos.FaultType]int64) {
	fmt.Fprintln(r.out, r.dim.Render(fmt.Sprintf("injected faults: %d dropped, %d corrupted, %d truncated, %d delayed",
		hits[chaos.FaultDrop], hits[chaos.FaultCorrupt], hits[chaos.FaultTruncate], hits[chaos.FaultDelay])))
}
