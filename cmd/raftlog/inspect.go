package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
)

const previewBytes = 32

type uiStyles struct {
	title     lipgloss.Style
	dim       lipgloss.Style
	header    lipgloss.Style
	ok        lipgloss.Style
	warn      lipgloss.Style
	bad       lipgloss.Style
	term      lipgloss.Style
	writable  lipgloss.Style
	entryHead lipgloss.Style
}

var styles = buildStyles()

func buildStyles() uiStyles {
	return uiStyles{
		title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		dim:       lipgloss.NewStyle().Faint(true),
		header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Background(lipgloss.Color("8")),
		ok:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		warn:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		bad:       lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		term:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		writable:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		entryHead: lipgloss.NewStyle().Bold(true),
	}
}

var segmentColumns = []struct {
	label string
	width int
}{
	{"FILE", 20},
	{"PREV", 10},
	{"LAST", 10},
	{"TERMS", 13},
	{"ENTRIES", 8},
	{"SIZE", 10},
	{"STATE", 0},
}

func cmdDump(out io.Writer, fsys raftlog.FileSystem, dir string, withEntries bool, limit int) error {
	var entries []raftlog.EntryRecord[[]byte]
	var visit func(raftlog.EntryRecord[[]byte])
	if withEntries {
		visit = func(rec raftlog.EntryRecord[[]byte]) {
			if limit > 0 && len(entries) >= limit {
				return
			}
			entries = append(entries, rec)
		}
	}

	report, err := raftlog.Inspect(fsys, dir, visit)
	if err != nil {
		return err
	}
	renderReport(out, report)
	if withEntries {
		_, _ = fmt.Fprintln(out)
		renderEntries(out, entries)
	}
	return nil
}

func cmdCheck(out io.Writer, fsys raftlog.FileSystem, dir string) error {
	report, err := raftlog.Inspect(fsys, dir, nil)
	if err != nil {
		return err
	}
	if report.Damaged {
		for _, s := range report.Segments {
			if s.Damage != "" {
				_, _ = fmt.Fprintf(out, "%s %s: %s\n", styles.bad.Render("DAMAGED"), s.File, s.Damage)
			}
		}
		return fmt.Errorf("%w: %s", errDamaged, dir)
	}

	torn := int64(0)
	for _, s := range report.Segments {
		torn += s.TornBytes
	}
	line := fmt.Sprintf("%s %s: %d segments, entries %d..%d",
		styles.ok.Render("OK"), dir, len(report.Segments), report.PrevIndex+1, report.AppendIndex)
	if torn > 0 {
		line += styles.warn.Render(fmt.Sprintf(" (%d torn bytes will be trimmed on start)", torn))
	}
	_, _ = fmt.Fprintln(out, line)
	return nil
}

func renderReport(out io.Writer, report raftlog.InspectReport) {
	state := styles.ok.Render("intact")
	if report.Damaged {
		state = styles.bad.Render("damaged")
	}
	_, _ = fmt.Fprintf(out, "%s %s  %s\n",
		styles.title.Render("raft log"),
		report.Directory,
		state,
	)
	_, _ = fmt.Fprintf(out, "%s prev_index=%d append_index=%d segments=%d\n\n",
		styles.dim.Render("  "),
		report.PrevIndex,
		report.AppendIndex,
		len(report.Segments),
	)

	labels := make([]string, len(segmentColumns))
	for i, c := range segmentColumns {
		labels[i] = pad(c.label, c.width)
	}
	_, _ = fmt.Fprintln(out, styles.header.Render(strings.Join(labels, " ")))

	for _, s := range report.Segments {
		_, _ = fmt.Fprintln(out, segmentRow(s))
	}
}

func segmentRow(s raftlog.SegmentReport) string {
	cells := []string{
		pad(s.File, segmentColumns[0].width),
		pad(strconv.FormatInt(s.Info.PrevIndex, 10), segmentColumns[1].width),
		pad(strconv.FormatInt(s.Info.LastIndex, 10), segmentColumns[2].width),
		styles.term.Render(pad(fmt.Sprintf("%d..%d", s.Info.PrevTerm, s.Info.LastTerm), segmentColumns[3].width)),
		pad(strconv.Itoa(s.Info.Entries), segmentColumns[4].width),
		pad(formatBytes(s.Info.Size), segmentColumns[5].width),
		segmentState(s),
	}
	return strings.Join(cells, " ")
}

func segmentState(s raftlog.SegmentReport) string {
	switch {
	case s.Damage != "":
		return styles.bad.Render("damaged: " + s.Damage)
	case s.TornBytes > 0:
		return styles.warn.Render(fmt.Sprintf("torn tail (%d bytes)", s.TornBytes))
	default:
		return styles.ok.Render("ok")
	}
}

func renderEntries(out io.Writer, entries []raftlog.EntryRecord[[]byte]) {
	_, _ = fmt.Fprintln(out, styles.header.Render(strings.Join([]string{
		pad("INDEX", 10), pad("TERM", 8), pad("VERSION", 8), pad("OFFSET", 10), pad("LEN", 6), "CONTENT",
	}, " ")))
	for _, rec := range entries {
		_, _ = fmt.Fprintln(out, strings.Join([]string{
			pad(strconv.FormatInt(rec.Index, 10), 10),
			styles.term.Render(pad(strconv.FormatInt(rec.Entry.Term, 10), 8)),
			pad(strconv.FormatInt(rec.Version, 10), 8),
			pad(strconv.FormatInt(rec.Offset, 10), 10),
			pad(strconv.FormatInt(rec.Length, 10), 6),
			styles.dim.Render(preview(rec.Entry.Content)),
		}, " "))
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, styles.dim.Render("(no entries)"))
	}
}

func renderServingStatus(st healthpb.HealthCheckResponse_ServingStatus) string {
	switch st {
	case healthpb.HealthCheckResponse_SERVING:
		return styles.ok.Render(st.String())
	case healthpb.HealthCheckResponse_NOT_SERVING:
		return styles.bad.Render(st.String())
	default:
		return styles.warn.Render(st.String())
	}
}

// preview shows printable content as text and anything else as hex.
func preview(b []byte) string {
	if len(b) == 0 {
		return "-"
	}
	shown := b
	if len(shown) > previewBytes {
		shown = shown[:previewBytes]
	}
	var s string
	if utf8.Valid(shown) && isPrintable(string(shown)) {
		s = strconv.Quote(string(shown))
	} else {
		s = fmt.Sprintf("%x", shown)
	}
	if len(b) > previewBytes {
		s += fmt.Sprintf("... (%d bytes)", len(b))
	}
	return s
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !strconv.IsPrint(r) {
			return false
		}
	}
	return true
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func pad(s string, width int) string {
	if width <= 0 {
		return s
	}
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
