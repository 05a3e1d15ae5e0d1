package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"modelhost/internal/download"
	"modelhost/internal/events"
	"modelhost/pkg/types"
)

func newCatalogCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"ls", "list"},
		Short:   "List known models and whether they are downloaded",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, src, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, _, closer, err := opts.buildApp(cfg, src)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer a.Close()
			printModels(opts.Stdout, a.ListModels())
			return nil
		},
	}
}

func printModels(w io.Writer, models []types.ModelSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "NAME", "PARAMS", "SIZE", "MULTIMODAL", "DOWNLOADED"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, m := range models {
		id := m.ID
		if m.Selected {
			id += " *"
		}
		downloaded := "yes"
		if !m.Downloaded {
			downloaded = "missing " + strings.Join(m.Missing, ", ")
		}
		table.Append([]string{id, m.Name, m.Parameters, humanize.Bytes(uint64(m.SizeBytes)), yesNo(m.Multimodal), downloaded})
	}
	table.Render()
}

func newDownloadCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "download <model>",
		Short:   "Download a model's files into the models directory",
		Example: "  modelhost download qwen2.5-3b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, src, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, _, closer, err := opts.buildApp(cfg, src)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer a.Close()
			return runDownload(ctx, opts.Stdout, a.Downloader, a.Bus, args[0])
		},
	}
}

func newRemoveCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <model>",
		Aliases: []string{"remove"},
		Short:   "Delete a model's downloaded files",
		Example: "  modelhost rm qwen2.5-3b",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, src, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, _, closer, err := opts.buildApp(cfg, src)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer a.Close()
			if err := a.RemoveModel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(opts.Stdout, "%s removed\n", args[0])
			return nil
		},
	}
}

// runDownload starts the task, prints progress events until it finishes
// and reports failure as an error.
func runDownload(ctx context.Context, w io.Writer, dm *download.Manager, bus *events.Bus, modelID string) error {
	ch, unsubscribe := bus.Subscribe(64, events.DownloadProgress)
	defer unsubscribe()
	if _, err := dm.StartDownload(modelID); err != nil {
		return err
	}
	go func() {
		for e := range ch {
			if p, ok := e.Payload.(events.DownloadPayload); ok && p.ModelID == modelID {
				fmt.Fprintf(w, "%s  %s / %s  %5.1f%%\n", p.CurrentFile,
					humanize.Bytes(uint64(p.ReceivedBytes)), humanize.Bytes(uint64(p.TotalBytes)), p.Percent)
			}
		}
	}()
	st, err := dm.Wait(ctx, modelID)
	if err != nil {
		return err
	}
	if st.Status != string(download.StatusCompleted) {
		return fmt.Errorf("download %s: %s", st.Status, st.Error)
	}
	fmt.Fprintf(w, "%s downloaded (%s)\n", modelID, humanize.Bytes(uint64(st.ReceivedBytes)))
	return nil
}

func newMatchCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:     "match <model|active> <ext>",
		Short:   "Show how well a model handles a file type",
		Example: "  modelhost match qwen2.5-vl-3b .jpg",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, src, err := opts.loadConfig()
			if err != nil {
				return err
			}
			a, _, closer, err := opts.buildApp(cfg, src)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer a.Close()
			id, ext := args[0], args[1]
			if id == "active" {
				id = ""
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			printMatch(opts.Stdout, a.MatchFileType(cmd.Context(), id, ext))
			return nil
		},
	}
}

func printMatch(w io.Writer, m types.FileTypeMatch) {
	rows := [][]string{
		{"extension", m.Extension},
		{"type", m.Type},
		{"supported", yesNo(m.Supported)},
		{"score", strconv.Itoa(m.Score)},
		{"quality", m.Quality},
		{"estimated time", (time.Duration(m.EstimatedTimeMs) * time.Millisecond).String()},
		{"estimated memory", humanize.IBytes(uint64(m.EstimatedMemoryMB) << 20)},
		{"success rate", strconv.FormatFloat(m.SuccessRate, 'f', 2, 64)},
	}
	if m.Reason != "" {
		rows = append(rows, []string{"reason", m.Reason})
	}
	for _, l := range m.Limitations {
		rows = append(rows, []string{"limitation", l})
	}
	printKV(w, rows)
}

func newStatusCmd(opts *Options) *cobra.Command {
	var local bool
	c := &cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Long:  "Reads GET /status from a running server. With --local the service initializes in-process and reports its snapshot.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, src, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !local {
				st, err := fetchStatus(cmd.Context(), cfg.Addr)
				if err != nil {
					return err
				}
				printStatus(opts.Stdout, st)
				return nil
			}
			a, _, closer, err := opts.buildApp(cfg, src)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer a.Close()
			// The outcome is part of the snapshot; the error itself adds nothing.
			_ = a.EnsureReady(cmd.Context())
			printStatus(opts.Stdout, a.Aggregator.Refresh(cmd.Context()))
			return nil
		},
	}
	c.Flags().BoolVar(&local, "local", false, "Compute the status in-process without a running server")
	return c
}

// fetchStatus reads GET /status from the server at addr.
func fetchStatus(ctx context.Context, addr string) (types.StatusResponse, error) {
	var st types.StatusResponse
	if ctx == nil {
		ctx = context.Background()
	}
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("server not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("GET /status: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

func printStatus(w io.Writer, st types.StatusResponse) {
	model := "-"
	if st.ModelName != nil {
		model = *st.ModelName
	}
	rows := [][]string{
		{"status", st.Status},
		{"state", st.State},
		{"model", model},
		{"engine running", yesNo(st.EngineRunning)},
		{"error rate", fmt.Sprintf("%.0f%% of %d", st.ErrorRate*100, st.RecentRequests)},
	}
	if !st.Available {
		rows = append(rows, []string{"available", "no"})
	}
	if st.LastError != "" {
		rows = append(rows, []string{"last error", st.LastError})
	}
	if st.UptimeSeconds > 0 {
		rows = append(rows, []string{"uptime", (time.Duration(st.UptimeSeconds) * time.Second).String()})
	}
	if hw := st.Hardware; hw != nil {
		mem := humanize.IBytes(uint64(hw.TotalRAMMB) << 20)
		if hw.TotalVRAMMB > 0 {
			mem += ", vram " + humanize.IBytes(uint64(hw.TotalVRAMMB)<<20)
		}
		rows = append(rows, []string{"hardware", fmt.Sprintf("%d cpus, ram %s", hw.CPUs, mem)})
	}
	for _, d := range st.Downloads {
		rows = append(rows, []string{"download", fmt.Sprintf("%s %s %.1f%%", d.ModelID, d.Status, d.Percent)})
	}
	printKV(w, rows)
}

func printKV(w io.Writer, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
