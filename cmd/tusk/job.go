package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/tuskdata/tusk/pkg/client"
	"github.com/tuskdata/tusk/pkg/types"
)

const defaultSchedulerAddr = "127.0.0.1:7070"

func addSchedulerFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().String("scheduler", defaultSchedulerAddr, "Scheduler address (host:port or unix:///path)")
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("scheduler")
	if env := os.Getenv("TUSK_SCHEDULER_ADDR"); env != "" && !cmd.Flags().Changed("scheduler") {
		addr = env
	}
	c, err := client.NewClient(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scheduler: %w", err)
	}
	return c, nil
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and manage jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit QUERY",
	Short: "Submit a query",
	Long: `Submit a query as a new job and print its id.

Examples:
  tusk job submit "SELECT region, sum(amount) FROM sales GROUP BY region"
  tusk job submit --datasource sales --param day=2024-05-01 "SELECT * FROM orders WHERE day = :day"
  tusk job submit --wait "rows=100 batch=10"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		datasource, _ := cmd.Flags().GetString("datasource")
		rawParams, _ := cmd.Flags().GetStringToString("param")
		principal, _ := cmd.Flags().GetString("principal")
		wait, _ := cmd.Flags().GetBool("wait")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		query := types.QuerySpec{Text: args[0], Datasource: datasource}
		if len(rawParams) > 0 {
			query.Params = rawParams
		}
		job, err := c.SubmitJob(cmd.Context(), query, principal)
		if err != nil {
			return fmt.Errorf("failed to submit job: %w", err)
		}
		fmt.Println(job.ID)

		if !wait {
			return nil
		}
		final, err := waitForJob(cmd.Context(), c, job.ID, nil)
		if err != nil {
			return err
		}
		return finalStatus(final)
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.GetJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(os.Stdout, job)
		}
		printJob(os.Stdout, job)
		return nil
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a job",
	Long: `Cancel a pending or running job. Cancelling a job that already finished
is not an error; its final status is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		job, err := c.CancelJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", job.ID, job.Status)
		return nil
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		output, _ := cmd.Flags().GetString("output")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		list, err := c.ListJobs(cmd.Context(), types.JobFilter{
			Status: types.JobStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(os.Stdout, list)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTATUS\tWORKER\tRETRIES\tSUBMITTED\tQUERY")
		for _, j := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
				j.ID, j.Status, orDash(j.AssignedWorkerID), j.Retries,
				humanize.Time(j.SubmittedAt), truncate(j.Query.Text, 48))
		}
		return tw.Flush()
	},
}

var jobResultCmd = &cobra.Command{
	Use:   "result ID",
	Short: "Print the result of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		var w resultWriter
		switch format {
		case "table":
			w = newTableWriter(os.Stdout)
		case "csv":
			w = newCSVWriter(os.Stdout)
		case "json":
			w = newJSONWriter(os.Stdout)
		default:
			return fmt.Errorf("unknown format %q (table, csv, json)", format)
		}

		if err := c.FetchResult(cmd.Context(), args[0], w.write); err != nil {
			return err
		}
		return w.flush()
	},
}

var jobWatchCmd = &cobra.Command{
	Use:   "watch ID",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		final, err := waitForJob(cmd.Context(), c, args[0], func(j *types.Job) {
			fmt.Printf("%s  %-9s %s\n", j.UpdatedAt.Format(time.TimeOnly), j.Status, progressSummary(j))
		})
		if err != nil {
			return err
		}
		return finalStatus(final)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workers and active jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		status, err := c.GetClusterStatus(cmd.Context())
		if err != nil {
			return err
		}
		if output == "json" {
			return printJSON(os.Stdout, status)
		}

		fmt.Printf("Workers: %d   Running jobs: %d   Queued: %d\n\n", len(status.Workers), len(status.ActiveJobs), status.Queued)

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKER\tADDRESS\tENGINE\tSTATUS\tJOBS\tCPU\tMEM\tLAST SEEN")
		for _, w := range status.Workers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%.0f%%\t%.0f%%\t%s\n",
				w.ID, w.Address, orDash(w.Engine), w.Status, len(w.Jobs), w.Capacity,
				w.Metrics.CPUPercent, w.Metrics.MemoryPercent, humanize.Time(w.LastHeartbeat))
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		if len(status.ActiveJobs) == 0 {
			return nil
		}
		fmt.Println()
		tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tWORKER\tSTARTED\tPROGRESS")
		for _, j := range status.ActiveJobs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.AssignedWorkerID, humanize.Time(j.StartedAt), progressSummary(j))
		}
		return tw.Flush()
	},
}

func init() {
	addSchedulerFlag(jobCmd)
	addSchedulerFlag(statusCmd)

	jobSubmitCmd.Flags().String("datasource", "", "Named data source on the worker")
	jobSubmitCmd.Flags().StringToString("param", nil, "Query parameter as key=value (repeatable)")
	jobSubmitCmd.Flags().String("principal", os.Getenv("USER"), "Submitting principal")
	jobSubmitCmd.Flags().Bool("wait", false, "Wait for the job to finish")

	jobGetCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")
	jobListCmd.Flags().String("status", "", "Only jobs with this status")
	jobListCmd.Flags().Int("limit", 50, "Maximum number of jobs")
	jobListCmd.Flags().Int("offset", 0, "Number of jobs to skip")
	jobListCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")
	jobResultCmd.Flags().String("format", "table", "Output format (table, csv, json)")
	statusCmd.Flags().StringP("output", "o", "text", "Output format (text, json)")

	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobGetCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobResultCmd)
	jobCmd.AddCommand(jobWatchCmd)

	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(statusCmd)
}

// waitForJob follows a job until it is terminal, calling fn for every update
func waitForJob(ctx context.Context, c *client.Client, id string, fn func(*types.Job)) (*types.Job, error) {
	var last *types.Job
	err := c.WatchJob(ctx, id, func(j *types.Job) error {
		last = j
		if fn != nil {
			fn(j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil || !last.Status.IsTerminal() {
		// the stream ended early; the stored job is authoritative
		return c.GetJob(ctx, id)
	}
	return last, nil
}

func finalStatus(job *types.Job) error {
	switch job.Status {
	case types.JobStatusCompleted:
		fmt.Fprintf(os.Stderr, "job %s completed\n", job.ID)
		return nil
	case types.JobStatusFailed:
		return fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	default:
		return fmt.Errorf("job %s %s", job.ID, job.Status)
	}
}

func printJob(w io.Writer, j *types.Job) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", j.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", j.Status)
	fmt.Fprintf(tw, "Query:\t%s\n", j.Query.Text)
	if j.Query.Datasource != "" {
		fmt.Fprintf(tw, "Datasource:\t%s\n", j.Query.Datasource)
	}
	fmt.Fprintf(tw, "Principal:\t%s\n", orDash(j.Principal))
	fmt.Fprintf(tw, "Worker:\t%s\n", orDash(j.AssignedWorkerID))
	fmt.Fprintf(tw, "Retries:\t%d\n", j.Retries)
	fmt.Fprintf(tw, "Submitted:\t%s (%s)\n", j.SubmittedAt.Format(time.RFC3339), humanize.Time(j.SubmittedAt))
	if !j.StartedAt.IsZero() {
		fmt.Fprintf(tw, "Started:\t%s\n", j.StartedAt.Format(time.RFC3339))
	}
	if !j.CompletedAt.IsZero() {
		fmt.Fprintf(tw, "Finished:\t%s (took %s)\n", j.CompletedAt.Format(time.RFC3339), j.CompletedAt.Sub(j.StartedAt).Round(time.Millisecond))
	}
	if len(j.Progress) > 0 {
		fmt.Fprintf(tw, "Progress:\t%s\n", progressSummary(j))
	}
	if j.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", j.Error)
	}
	_ = tw.Flush()
}

func progressSummary(j *types.Job) string {
	if len(j.Progress) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(j.Progress))
	for _, s := range j.Progress {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", s.Name, s.Fraction*100))
	}
	return strings.Join(parts, ", ")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// resultWriter renders result batches as they stream in
type resultWriter interface {
	write(*types.Batch) error
	flush() error
}

type tableWriter struct {
	tw     *tabwriter.Writer
	header bool
}

func newTableWriter(w io.Writer) *tableWriter {
	return &tableWriter{tw: tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)}
}

func (t *tableWriter) write(b *types.Batch) error {
	if !t.header {
		names := make([]string, len(b.Columns))
		for i, c := range b.Columns {
			names[i] = strings.ToUpper(c.Name)
		}
		fmt.Fprintln(t.tw, strings.Join(names, "\t"))
		t.header = true
	}
	for _, row := range rows(b) {
		fmt.Fprintln(t.tw, strings.Join(row, "\t"))
	}
	return nil
}

func (t *tableWriter) flush() error {
	return t.tw.Flush()
}

type csvWriter struct {
	w      *csv.Writer
	header bool
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w)}
}

func (c *csvWriter) write(b *types.Batch) error {
	if !c.header {
		names := make([]string, len(b.Columns))
		for i, col := range b.Columns {
			names[i] = col.Name
		}
		if err := c.w.Write(names); err != nil {
			return err
		}
		c.header = true
	}
	return c.w.WriteAll(rows(b))
}

func (c *csvWriter) flush() error {
	c.w.Flush()
	return c.w.Error()
}

// jsonWriter prints one JSON object per row
type jsonWriter struct {
	enc *json.Encoder
}

func newJSONWriter(w io.Writer) *jsonWriter {
	return &jsonWriter{enc: json.NewEncoder(w)}
}

func (j *jsonWriter) write(b *types.Batch) error {
	n := b.NumRows()
	for i := 0; i < n; i++ {
		obj := make(map[string]any, len(b.Columns))
		for _, c := range b.Columns {
			if i < len(c.Values) {
				obj[c.Name] = c.Values[i]
			}
		}
		if err := j.enc.Encode(obj); err != nil {
			return err
		}
	}
	return nil
}

func (j *jsonWriter) flush() error {
	return nil
}

func rows(b *types.Batch) [][]string {
	n := b.NumRows()
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, len(b.Columns))
		for ci, c := range b.Columns {
			if i < len(c.Values) && c.Values[i] != nil {
				row[ci] = fmt.Sprint(c.Values[i])
			}
		}
		out[i] = row
	}
	return out
}
