package outlinesync

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"
)

// JobReport describes one executed job.
type JobReport struct {
	ID         string         `json:"id"`
	Status     Status         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	ExitCode   int            `json:"exit_code"`
	Error      string         `json:"error,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
}

// Summary is the structured report of one run.
type Summary struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	TimedOut    int            `json:"timed_out"`
	Skipped     int            `json:"skipped"`
	Interrupted bool           `json:"interrupted"`
	Jobs        []JobReport    `json:"jobs"`
	Counts      map[string]int `json:"counts"`
}

func newSummary(runID string, start time.Time, total int) *Summary {
	return &Summary{
		RunID:     runID,
		StartedAt: start,
		Total:     total,
		Jobs:      []JobReport{},
		Counts:    map[string]int{},
	}
}

func (s *Summary) add(r JobReport) {
	s.Jobs = append(s.Jobs, r)
	switch r.Status {
	case StatusSuccess:
		s.Succeeded++
	case StatusTimeout:
		s.TimedOut++
	default:
		s.Failed++
	}
	for name, v := range r.Counts {
		s.Counts[name] += v
	}
}

// Elapsed returns the run's wall-clock duration.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// WriteJSON writes the summary as indented JSON.
func (s *Summary) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// WriteFile writes the summary as JSON to path, creating parent directories.
func (s *Summary) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := s.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// WriteText writes a human-readable table of the run.
func (s *Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "JOB\tSTATUS\tELAPSED\tEXIT\n")
	for _, j := range s.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", j.ID, j.Status, time.Duration(j.ElapsedMs)*time.Millisecond, j.ExitCode)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d jobs: %d succeeded, %d failed, %d timed out, %d skipped",
		s.Total, s.Succeeded, s.Failed, s.TimedOut, s.Skipped)
	if s.Interrupted {
		fmt.Fprint(w, " (interrupted)")
	}
	fmt.Fprintln(w)

	names := make([]string, 0, len(s.Counts))
	for name := range s.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %d\n", name, s.Counts[name])
	}
	return nil
}

// parseCounts sums every name=value match in output.
func parseCounts(re *regexp.Regexp, output []byte) map[string]int {
	matches := re.FindAllSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	counts := make(map[string]int, len(matches))
	for _, m := range matches {
		v, err := strconv.Atoi(string(m[2]))
		if err != nil {
			continue
		}
		counts[string(m[1])] += v
	}
	return counts
}
