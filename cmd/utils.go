package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/thindl/thindl/internal/download"
	"github.com/thindl/thindl/internal/engine/events"
	"github.com/thindl/thindl/internal/engine/request"
	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/utils"
)

var (
	startedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#bd93f9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50fa7b")).Bold(true)
	pausedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")).Bold(true)
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272a4"))
)

// readURLsFromFile reads URLs from a file, one per line. Blank lines and
// lines starting with # are skipped.
func readURLsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var urls []string
	scanner := bufio.NewScanner(file)

	// Increase buffer size for long URLs (default is 64KB, increase to 1MB)
	const maxCapacity = 1024 * 1024
	scanner.Buffer(make([]byte, maxCapacity), maxCapacity)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return urls, nil
}

// parseHeaders turns "Key: Value" flags into a header map.
func parseHeaders(raw []string) (http.Header, error) {
	h := make(http.Header)
	for _, line := range raw {
		k, v, ok := strings.Cut(line, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", line)
		}
		h.Set(k, strings.TrimSpace(v))
	}
	return h, nil
}

type requestOptions struct {
	outDir    string
	priority  types.Priority
	resumable bool
	headers   http.Header
}

// buildRequests creates one request per URL. The file name comes from the
// URL; non-resumable downloads never overwrite an existing file.
func buildRequests(urls []string, o requestOptions) ([]*request.Request, error) {
	dir := o.outDir
	if dir == "" {
		dir = "."
	}
	if !strings.HasSuffix(dir, string(os.PathSeparator)) {
		dir += string(os.PathSeparator)
	}

	reqs := make([]*request.Request, 0, len(urls))
	claimed := make(map[string]bool)
	for _, u := range urls {
		r, err := request.New(u)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u, err)
		}

		dest := utils.ResolveDestination(dir, u)
		if !o.resumable {
			dest = utils.UniqueFilePath(dest)
		}
		if claimed[dest] {
			return nil, fmt.Errorf("%s: destination %s is already used by another URL in this batch", u, dest)
		}
		claimed[dest] = true

		r.SetPriority(o.priority).
			SetResumable(o.resumable).
			SetDestination(dest)
		for k, vs := range o.headers {
			for _, v := range vs {
				r.AddCustomHeader(k, v)
			}
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// releaseDraining releases m while discarding the events dispatchers are
// still trying to deliver on ch.
func releaseDraining(m *download.Manager, ch <-chan any) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
			case <-done:
				return
			}
		}
	}()
	m.Release()
	close(done)
}

// plainPrinter writes one line per event, or one JSON object per event.
type plainPrinter struct {
	w       io.Writer
	asJSON  bool
	quarter map[int64]int
}

func newPlainPrinter(w io.Writer, asJSON bool) *plainPrinter {
	return &plainPrinter{w: w, asJSON: asJSON, quarter: make(map[int64]int)}
}

// consume prints events until n downloads reached an end state and returns
// how many of them failed.
func (p *plainPrinter) consume(ctx context.Context, ch <-chan any, n int) (int, error) {
	failed := 0
	for n > 0 {
		select {
		case <-ctx.Done():
			return failed, ctx.Err()
		case msg := <-ch:
			terminal, bad := p.print(msg)
			if terminal {
				n--
			}
			if bad {
				failed++
			}
		}
	}
	return failed, nil
}

func (p *plainPrinter) print(msg any) (terminal, failed bool) {
	switch m := msg.(type) {
	case events.DownloadStartedMsg:
		p.emit("started", m, startedStyle.Render("Started")+fmt.Sprintf("   %s [%s] -> %s", m.Filename, m.Priority, m.DestPath))
	case events.ProgressMsg:
		// Report at most every 25%
		if m.Percent < 0 || m.Percent/25 <= p.quarter[m.ID] {
			if p.asJSON {
				p.emit("progress", m, "")
			}
			return false, false
		}
		p.quarter[m.ID] = m.Percent / 25
		p.emit("progress", m, progressStyle.Render(fmt.Sprintf("  #%d %3d%% %s / %s",
			m.ID, m.Percent, humanize.IBytes(uint64(m.Downloaded)), humanize.IBytes(uint64(m.Total)))))
	case events.DownloadCompleteMsg:
		delete(p.quarter, m.ID)
		detail := m.Elapsed.Round(time.Millisecond).String()
		if m.Total >= 0 {
			detail = humanize.IBytes(uint64(m.Total)) + " in " + detail
		}
		if m.MIME != "" {
			detail += ", " + m.MIME
		}
		p.emit("complete", m, successStyle.Render("Completed")+fmt.Sprintf(" %s (%s)", m.Filename, detail))
		return true, false
	case events.DownloadPausedMsg:
		delete(p.quarter, m.ID)
		p.emit("paused", m, pausedStyle.Render("Paused")+fmt.Sprintf("    %s at %s", m.Filename, humanize.IBytes(uint64(m.Downloaded))))
		return true, false
	case events.DownloadErrorMsg:
		delete(p.quarter, m.ID)
		p.emit("error", m, errorStyle.Render("Error")+fmt.Sprintf("     %s: %v", m.Filename, m.Err))
		return true, true
	}
	return false, false
}

func (p *plainPrinter) emit(event string, msg any, line string) {
	if p.asJSON {
		data, err := json.Marshal(struct {
			Event string `json:"event"`
			Data  any    `json:"data"`
		}{event, msg})
		if err != nil {
			return
		}
		fmt.Fprintln(p.w, string(data))
		return
	}
	if line != "" {
		fmt.Fprintln(p.w, line)
	}
}
