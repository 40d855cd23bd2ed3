package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/kinoteka/kinoteka/jobs"
)

// JobsCLI wraps manual inspection helpers for Asynq queues.
type JobsCLI struct {
	inspector jobs.QueueInspector
	closer    io.Closer
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{inspector: inspector, closer: inspector}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// InspectCommand prints queue statistics. It exits with 10 when archived
// (dead) audit tasks exist.
func (c *JobsCLI) InspectCommand(stdout, stderr io.Writer) int {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	if c == nil || c.inspector == nil {
		_, _ = fmt.Fprintln(stderr, errors.New("jobs inspect: inspector not configured"))
		return 1
	}
	stats, err := jobs.Inspect(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs inspect: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tSIZE\tPENDING\tACTIVE\tRETRY\tARCHIVED\tPROCESSED\tFAILED")
	code := 0
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Size, s.Pending, s.Active, s.Retry, s.Archived, s.Processed, s.Failed)
		if s.Queue == jobs.QueueAudit && s.Archived > 0 {
			code = 10
		}
	}
	_ = tw.Flush()
	return code
}
