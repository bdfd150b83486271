package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/abdul-hamid-achik/courier/packages/core/config"
	"github.com/abdul-hamid-achik/courier/packages/core/template"
	"github.com/abdul-hamid-achik/courier/packages/engine"
	"github.com/abdul-hamid-achik/courier/packages/metrics"
	"github.com/abdul-hamid-achik/courier/packages/output"
	"github.com/abdul-hamid-achik/courier/packages/session"
	"github.com/abdul-hamid-achik/courier/packages/sse"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Send a request and print the response",
	Long: `Send a request through a courier session and print the response.

Examples:
  courier fetch https://api.example.com/users
  courier fetch https://api.example.com/users -X POST -H "Content-Type: application/json" -d '{"name":"ada"}'
  courier fetch https://api.example.com/private -u ada:secret --retries 3 --fail
  courier fetch https://api.example.com/upload -F owner=ada -F avatar=@avatar.png
  courier fetch https://api.example.com/report.csv --download ./reports
  courier fetch -f requests/create-user.yaml --var host=localhost:8080 --watch
  courier fetch --from-curl "curl -u ada:secret https://api.example.com/me" --json name
  courier fetch https://api.example.com/events --events

Repeated runs:
  courier fetch https://api.example.com/health --repeat 200 --concurrency 10 --p95 150ms --error-rate 0.01`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

const (
	// WatchDebounceDelay is the debounce delay for file watch events
	WatchDebounceDelay = 300 * time.Millisecond
)

var (
	fetchFlags requestFlags

	downloadFlag    string
	failFlag        bool
	schemaFlag      string
	jsonPathFlag    string
	includeFlag     bool
	verboseFlag     bool
	outputFlag      string
	streamFlag      bool
	eventsFlag      bool
	progressFlag    bool
	repeatFlag      int
	concurrencyFlag int
	p95Flag         time.Duration
	p99Flag         time.Duration
	errorRateFlag   float64
	watchFlag       bool
)

func init() {
	fetchFlags.register(fetchCmd)

	fetchCmd.Flags().StringVar(&downloadFlag, "download", "", "Save the response body into this directory")
	fetchCmd.Flags().BoolVar(&failFlag, "fail", getEnvBool("COURIER_FAIL", false), "Treat non-2xx responses as failures (env: COURIER_FAIL)")
	fetchCmd.Flags().StringVar(&schemaFlag, "schema", "", "Validate the response body against a JSON schema file")
	fetchCmd.Flags().StringVar(&jsonPathFlag, "json", "", "Print only the value at this JSON path (gjson syntax)")
	fetchCmd.Flags().BoolVarP(&includeFlag, "include", "i", false, "Include response headers in the output")
	fetchCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Print the request line, retries and timeline")
	fetchCmd.Flags().StringVarP(&outputFlag, "output", "o", getEnvString("COURIER_OUTPUT", "console"), "Output format: console, json (env: COURIER_OUTPUT)")
	fetchCmd.Flags().BoolVar(&streamFlag, "stream", false, "Write the body as it arrives instead of buffering it")
	fetchCmd.Flags().BoolVar(&eventsFlag, "events", false, "Decode a text/event-stream body and print each event as it arrives")
	fetchCmd.Flags().BoolVar(&progressFlag, "progress", false, "Report transfer progress on stderr")

	fetchCmd.Flags().IntVar(&repeatFlag, "repeat", 1, "Send the request this many times and print a summary")
	fetchCmd.Flags().IntVar(&concurrencyFlag, "concurrency", getEnvInt("COURIER_CONCURRENCY", 1), "Requests in flight during a repeated run (env: COURIER_CONCURRENCY)")
	fetchCmd.Flags().DurationVar(&p95Flag, "p95", 0, "Fail a repeated run when p95 latency exceeds this")
	fetchCmd.Flags().DurationVar(&p99Flag, "p99", 0, "Fail a repeated run when p99 latency exceeds this")
	fetchCmd.Flags().Float64Var(&errorRateFlag, "error-rate", 0, "Fail a repeated run when the error rate exceeds this fraction")

	fetchCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Re-send when the template or env file changes")
}

// fetchOptions control how one request is sent and shown.
type fetchOptions struct {
	download string
	fail     bool
	schema   string
	stream   io.Writer
	events   sse.Handler
	progress io.Writer
}

func runFetch(cmd *cobra.Command, args []string) error {
	if watchFlag && fetchFlags.file == "" {
		return withExitCode(ExitUsageError, fmt.Errorf("--watch needs a template given with --file"))
	}
	if repeatFlag < 1 || concurrencyFlag < 1 {
		return withExitCode(ExitUsageError, fmt.Errorf("--repeat and --concurrency must be at least 1"))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := fetchFlags.apply(cfg); err != nil {
		return err
	}
	opts, err := fetchFlags.clientOptions()
	if err != nil {
		return err
	}

	c, err := newClient(cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			c.logger.Warn("failed to close client", "error", err)
		}
	}()

	resolver, err := fetchFlags.resolver(c.logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	printer := output.NewPrinter(
		output.WithWriter(out),
		output.WithVerbose(verboseFlag),
		output.WithHeaders(includeFlag),
		output.WithNoColor(cfg.GetNoColor()),
	)

	schema := ""
	if schemaFlag != "" {
		data, err := os.ReadFile(schemaFlag)
		if err != nil {
			return withExitCode(ExitUsageError, fmt.Errorf("failed to read schema: %w", err))
		}
		schema = string(data)
	}

	run := func() error {
		built, err := fetchFlags.build(args, resolver)
		if err != nil {
			return err
		}
		fo := fetchOptions{download: downloadFlag, fail: failFlag, schema: schema}
		if fo.download == "" {
			fo.download = built.Download
		}
		if fo.schema == "" && built.Expect.Schema != "" {
			data, err := os.ReadFile(built.Expect.Schema)
			if err != nil {
				return withExitCode(ExitUsageError, fmt.Errorf("failed to read schema: %w", err))
			}
			fo.schema = string(data)
		}
		if streamFlag {
			fo.stream = out
		}
		if eventsFlag {
			fo.events = printer.Event
			if _, ok := built.Request.Headers["Accept"]; !ok {
				built.Request.SetHeader("Accept", "text/event-stream")
			}
		}
		if progressFlag {
			fo.progress = cmd.ErrOrStderr()
		}

		if repeatFlag > 1 {
			return runRepeated(ctx, c, built, fo, out, cfg)
		}
		return runOnce(ctx, c, built, fo, printer, out)
	}

	err = run()
	if !watchFlag {
		return err
	}
	if err != nil {
		printer.Error(err)
	}
	return watchTemplate(ctx, cmd, run, printer)
}

func runOnce(ctx context.Context, c *client, built *template.Built, fo fetchOptions, printer *output.Printer, out io.Writer) error {
	resp, retries := send(ctx, c, built, fo)

	switch {
	case outputFlag == "json":
		if err := output.WriteJSON(out, resp, retries); err != nil {
			return err
		}
	case jsonPathFlag != "" && resp.Error == nil:
		result := gjson.GetBytes(resp.Data, jsonPathFlag)
		if !result.Exists() {
			return withExitCode(ExitRequestFailure, fmt.Errorf("no value at %q", jsonPathFlag))
		}
		printer.Value(result.String())
	default:
		printer.Response(resp, retries)
	}

	return classify(resp.Error)
}

func runRepeated(ctx context.Context, c *client, built *template.Built, fo fetchOptions, out io.Writer, cfg *config.Config) error {
	fo.stream = nil
	fo.events = nil
	sem := make(chan struct{}, concurrencyFlag)
	var wg sync.WaitGroup

	for i := 0; i < repeatFlag && ctx.Err() == nil; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			send(ctx, c, built, fo)
		}()
	}
	wg.Wait()
	c.recorder.Stop()

	results := c.recorder.Check(metrics.Thresholds{P95: p95Flag, P99: p99Flag, ErrorRate: errorRateFlag})
	reporter := output.NewReporter(output.ReportTo(out), output.ReportEndpoints(verboseFlag))
	passed := true
	if outputFlag == "json" {
		if err := reporter.JSONSummary(c.recorder.Summary(), results); err != nil {
			return err
		}
		for _, r := range results {
			passed = passed && r.Passed
		}
	} else {
		passed = reporter.Summary(c.recorder.Summary(), results)
	}
	if !passed {
		return withExitCode(ExitThresholdFailure, fmt.Errorf("thresholds failed"))
	}
	return nil
}

// send submits built and waits for it to settle. Cancelling ctx cancels the
// request.
func send(ctx context.Context, c *client, built *template.Built, fo fetchOptions) (session.DefaultResponse, int) {
	var r *session.Request
	flush := func() {}
	switch {
	case built.Form != nil:
		up := c.session.Upload(built.Request, built.Form)
		if fo.progress != nil {
			up.UploadProgress(session.Serial(), progressPrinter(fo.progress, "sent"))
		}
		r = up.Request
	case fo.download != "":
		dl := c.session.Download(built.Request, session.SuggestedDownloadDestination(fo.download, session.DownloadOptions{
			CreateIntermediateDirectories: true,
			RemovePreviousFile:            true,
		}))
		if fo.progress != nil {
			dl.DownloadProgress(session.Serial(), progressPrinter(fo.progress, "received"))
		}
		r = dl.Request
	default:
		data := c.session.Request(built.Request)
		switch {
		case fo.events != nil:
			dec := sse.NewDecoder(fo.events)
			data.Stream(func(chunk []byte) { _, _ = dec.Write(chunk) })
			flush = dec.Flush
		case fo.stream != nil:
			data.Stream(func(chunk []byte) { _, _ = fo.stream.Write(chunk) })
		}
		if fo.progress != nil {
			data.DownloadProgress(session.Serial(), progressPrinter(fo.progress, "received"))
		}
		r = data.Request
	}

	if built.User != "" {
		r.Authenticate(built.User, built.Password)
	}
	switch {
	case len(built.Expect.Status) > 0:
		r.ValidateStatus(built.Expect.Status...)
	case fo.fail || c.validates():
		r.ValidateStatusRange(200, 299)
	}
	if len(built.Expect.ContentType) > 0 {
		r.ValidateContentType(built.Expect.ContentType...)
	}
	if fo.schema != "" {
		r.ValidateJSONSchema(fo.schema)
	}

	done := make(chan session.DefaultResponse, 1)
	r.Response(func(resp session.DefaultResponse) { done <- resp })
	r.Resume()

	var resp session.DefaultResponse
	select {
	case resp = <-done:
	case <-ctx.Done():
		r.Cancel()
		resp = <-done
	}
	flush()
	return resp, r.RetryCount()
}

func progressPrinter(w io.Writer, verb string) session.ProgressFunc {
	return func(p session.Progress) {
		if p.Total > 0 {
			fmt.Fprintf(w, "\r%s %d/%d bytes (%.0f%%)", verb, p.Completed, p.Total, p.Fraction()*100)
		} else {
			fmt.Fprintf(w, "\r%s %d bytes", verb, p.Completed)
		}
		if p.Total > 0 && p.Completed >= p.Total {
			fmt.Fprintln(w)
		}
	}
}

// classify maps a request error to the process exit code.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var validation *session.ValidationError
	var serialization *session.SerializationError
	var adapt *session.AdaptError
	switch {
	case errors.As(err, &validation), errors.As(err, &serialization), errors.As(err, &adapt):
		return withExitCode(ExitRequestFailure, err)
	case errors.Is(err, engine.ErrCancelled), errors.Is(err, context.Canceled):
		return withExitCode(ExitRequestFailure, err)
	default:
		return withExitCode(ExitNetworkError, err)
	}
}

// watchTemplate re-runs run whenever the template or env file is written.
func watchTemplate(ctx context.Context, cmd *cobra.Command, run func() error, printer *output.Printer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	watched := map[string]bool{}
	for _, path := range []string{fetchFlags.file, fetchFlags.envFile} {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		watched[abs] = true
		// editors replace files, so the directory is watched
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n\n")

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(event.Name)
			if !watched[abs] || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(WatchDebounceDelay, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "\nFile changed: %s\n\n", event.Name)
				if err := run(); err != nil {
					printer.Error(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "\nWatching for changes... (press Ctrl+C to stop)\n")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			printer.Error(fmt.Errorf("watcher error: %w", err))
		}
	}
}
