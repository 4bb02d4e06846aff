package outlinesync

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCounts(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   map[string]int
	}{
		{
			name:   "no counts",
			output: "parsed 12 lines\ndone\n",
			want:   nil,
		},
		{
			name:   "one per line",
			output: "COUNT inserted=12\nCOUNT linked=11\n",
			want:   map[string]int{"inserted": 12, "linked": 11},
		},
		{
			name:   "repeated names are summed",
			output: "COUNT inserted=2\nCOUNT inserted=3\n",
			want:   map[string]int{"inserted": 5},
		},
		{
			name:   "crlf line endings",
			output: "COUNT deleted=7\r\nCOUNT inserted=1\r\n",
			want:   map[string]int{"deleted": 7, "inserted": 1},
		},
		{
			name:   "not at line start",
			output: "log: COUNT inserted=4\n",
			want:   nil,
		},
		{
			name:   "negative values ignored",
			output: "COUNT inserted=-1\nCOUNT linked=2",
			want:   map[string]int{"linked": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCounts(DefaultCountPattern, []byte(tt.output)))
		})
	}
}

func TestParseCounts_CustomPattern(t *testing.T) {
	re := regexp.MustCompile(`(?m)^(\w+): (\d+)$`)
	got := parseCounts(re, []byte("rows: 9\nskipped: 1\n"))
	assert.Equal(t, map[string]int{"rows": 9, "skipped": 1}, got)
}

func sampleSummary() *Summary {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newSummary("run-1", start, 3)
	s.Skipped = 1
	s.add(JobReport{
		ID: "maths-a", Status: StatusSuccess,
		StartedAt: start, FinishedAt: start.Add(2 * time.Second), ElapsedMs: 2000,
		Counts: map[string]int{"inserted": 40},
	})
	s.add(JobReport{
		ID: "physics-a", Status: StatusFailed, ExitCode: 1, Error: "exit status 1",
		StartedAt: start.Add(4 * time.Second), FinishedAt: start.Add(5 * time.Second), ElapsedMs: 1000,
		Counts: map[string]int{"inserted": 2, "deleted": 3},
	})
	s.FinishedAt = start.Add(5 * time.Second)
	return s
}

func TestSummary_Totals(t *testing.T) {
	s := sampleSummary()
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, map[string]int{"inserted": 42, "deleted": 3}, s.Counts)
	assert.Equal(t, 5*time.Second, s.Elapsed())
}

func TestSummary_WriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleSummary().WriteJSON(&buf))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded["run_id"])
	assert.EqualValues(t, 3, decoded["total"])
	assert.EqualValues(t, 1, decoded["skipped"])
	assert.Equal(t, false, decoded["interrupted"])

	jobs, ok := decoded["jobs"].([]any)
	require.True(t, ok)
	require.Len(t, jobs, 2)
	failed := jobs[1].(map[string]any)
	assert.Equal(t, "failed", failed["status"])
	assert.Equal(t, "exit status 1", failed["error"])
	assert.NotContains(t, jobs[0].(map[string]any), "error")
}

func TestSummary_WriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	require.NoError(t, sampleSummary().WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var s Summary
	require.NoError(t, json.Unmarshal(data, &s))
	assert.Equal(t, "run-1", s.RunID)
	assert.Len(t, s.Jobs, 2)
}

func TestSummary_WriteText(t *testing.T) {
	s := sampleSummary()
	s.Interrupted = true

	var buf bytes.Buffer
	require.NoError(t, s.WriteText(&buf))
	out := buf.String()

	assert.Contains(t, out, "maths-a")
	assert.Contains(t, out, "physics-a")
	assert.Contains(t, out, "3 jobs: 1 succeeded, 1 failed, 0 timed out, 1 skipped (interrupted)")
	assert.Contains(t, out, "  deleted: 3\n  inserted: 42\n")
}
