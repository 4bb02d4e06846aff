package checkpoint

import "slices"

// Checkpoint records which jobs reached a terminal state. Completed and
// Failed are disjoint and keep first-insertion order.
type Checkpoint struct {
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// New returns an empty checkpoint.
func New() *Checkpoint {
	return &Checkpoint{Completed: []string{}, Failed: []string{}}
}

// IsCompleted reports whether id finished successfully in an earlier run.
func (c *Checkpoint) IsCompleted(id string) bool {
	return slices.Contains(c.Completed, id)
}

// IsFailed reports whether id's last attempt failed or timed out.
func (c *Checkpoint) IsFailed(id string) bool {
	return slices.Contains(c.Failed, id)
}

// MarkCompleted records id as completed and clears any earlier failure.
func (c *Checkpoint) MarkCompleted(id string) {
	c.Failed = remove(c.Failed, id)
	if !slices.Contains(c.Completed, id) {
		c.Completed = append(c.Completed, id)
	}
}

// MarkFailed records id as failed. Failed jobs are retried on resume.
func (c *Checkpoint) MarkFailed(id string) {
	c.Completed = remove(c.Completed, id)
	if !slices.Contains(c.Failed, id) {
		c.Failed = append(c.Failed, id)
	}
}

// Len returns the number of jobs in a terminal state.
func (c *Checkpoint) Len() int {
	return len(c.Completed) + len(c.Failed)
}

// Clone returns a deep copy with non-nil slices.
func (c *Checkpoint) Clone() *Checkpoint {
	out := New()
	if c == nil {
		return out
	}
	out.Completed = append(out.Completed, c.Completed...)
	out.Failed = append(out.Failed, c.Failed...)
	return out
}

func remove(list []string, id string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == id })
}
