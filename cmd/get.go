package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/thindl/thindl/internal/download"
	"github.com/thindl/thindl/internal/engine/events"
	"github.com/thindl/thindl/internal/engine/types"
	"github.com/thindl/thindl/internal/tui"
	"github.com/thindl/thindl/internal/utils"
)

type getOptions struct {
	output    string
	priority  string
	resumable bool
	headers   []string
	workers   int
	batch     string
	plain     bool
	jsonOut   bool
}

func newGetCmd(g *globalOptions) *cobra.Command {
	o := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get [url]...",
		Short: "Download one or more files",
		Long: `get queues every URL, then downloads them on a pool of workers, highest
priority first. Files are named after the last URL path segment.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, g, o, args)
		},
	}

	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output directory (default: general.download_dir)")
	cmd.Flags().StringVar(&o.priority, "priority", "normal", "low, normal, high or immediate")
	cmd.Flags().BoolVarP(&o.resumable, "resumable", "r", false, "keep partial files and resume them (default: transfer.resumable)")
	cmd.Flags().StringArrayVarP(&o.headers, "header", "H", nil, `extra request header, "Key: Value" (repeatable)`)
	cmd.Flags().IntVarP(&o.workers, "workers", "w", 0, "parallel downloads (default: connections.pool_size)")
	cmd.Flags().StringVarP(&o.batch, "batch", "b", "", "file containing URLs to download (one per line)")
	cmd.Flags().BoolVar(&o.plain, "plain", false, "print progress lines instead of the dashboard")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "print one JSON object per event (implies --plain)")
	return cmd
}

func runGet(cmd *cobra.Command, g *globalOptions, o *getOptions, args []string) error {
	urls := append([]string(nil), args...)
	if o.batch != "" {
		fromFile, err := readURLsFromFile(o.batch)
		if err != nil {
			return fmt.Errorf("batch file: %w", err)
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return errors.New("no URL given")
	}

	priority, err := types.ParsePriority(o.priority)
	if err != nil {
		return err
	}
	headers, err := parseHeaders(o.headers)
	if err != nil {
		return err
	}

	settings := g.settings
	resumable := settings.Transfer.Resumable
	if cmd.Flags().Changed("resumable") {
		resumable = o.resumable
	}
	outDir := o.output
	if outDir == "" {
		outDir = settings.General.DownloadDir
	}

	reqs, err := buildRequests(urls, requestOptions{
		outDir:    outDir,
		priority:  priority,
		resumable: resumable,
		headers:   headers,
	})
	if err != nil {
		return err
	}

	rc := settings.ToRuntimeConfig()
	if o.workers > 0 {
		rc.PoolSize = o.workers
	}

	ch := make(chan any, types.ProgressChannelBuffer)
	m, err := download.New(
		download.WithRuntime(rc),
		download.WithDelivery(events.NewChannelDelivery(ch)),
		download.WithLogger(utils.GetLogger("cli")),
		// Queue the whole batch before dispatching so priorities hold
		download.WithoutAutoStart(),
	)
	if err != nil {
		return err
	}
	defer releaseDraining(m, ch)

	model := tui.InitialRootModel(ch, m, true)
	queued := 0
	for _, r := range reqs {
		id, err := m.Add(r)
		if err != nil {
			cmd.PrintErrf("skipping %s: %v\n", r.URL().Redacted(), err)
			continue
		}
		model.Track(id, r.URL().String(), r.DestinationPath(), r.Priority())
		queued++
	}
	if queued == 0 {
		return errors.New("nothing to download")
	}
	if err := m.Start(); err != nil {
		return err
	}

	if o.plain || o.jsonOut {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		failed, err := newPlainPrinter(cmd.OutOrStdout(), o.jsonOut).consume(ctx, ch, queued)
		if err != nil {
			// Keep partial files of resumable downloads for the next run
			_ = m.PauseAll()
			return fmt.Errorf("interrupted: %w", err)
		}
		return summarize(failed, queued)
	}

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(cmd.OutOrStdout()))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	if rm, ok := final.(tui.RootModel); ok {
		return summarize(rm.Failures(), queued)
	}
	return nil
}

func summarize(failed, total int) error {
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, total)
	}
	return nil
}
