package hierarchy

import (
	"fmt"

	oserrors "github.com/randalmurphal/outlinesync/pkg/outlinesync/errors"
)

// Node is one entry of a parsed outline.
type Node struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	Level      int    `json:"level"`
	ParentCode string `json:"parent_code,omitempty"`
}

// HasParent reports whether the node hangs off another node.
func (n Node) HasParent() bool {
	return n.ParentCode != ""
}

// Validate checks that nodes form one complete tree: codes are present and
// unique, levels are non-negative, and every parent code names a node one
// level up in the same list.
func Validate(nodes []Node) error {
	levels := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if n.Code == "" {
			return &oserrors.ValidationError{Field: "code", Message: fmt.Sprintf("node %d has an empty code", i)}
		}
		if n.Level < 0 {
			return &oserrors.ValidationError{Field: "level", Message: fmt.Sprintf("node %s has negative level %d", n.Code, n.Level)}
		}
		if _, dup := levels[n.Code]; dup {
			return &oserrors.ValidationError{Field: "code", Message: fmt.Sprintf("duplicate code %s", n.Code)}
		}
		levels[n.Code] = n.Level
	}

	for _, n := range nodes {
		if !n.HasParent() {
			continue
		}
		parentLevel, ok := levels[n.ParentCode]
		if !ok {
			return &oserrors.ValidationError{
				Field:   "parent_code",
				Message: fmt.Sprintf("node %s references unknown parent %s", n.Code, n.ParentCode),
			}
		}
		if parentLevel != n.Level-1 {
			return &oserrors.ValidationError{
				Field:   "parent_code",
				Message: fmt.Sprintf("node %s at level %d has parent %s at level %d", n.Code, n.Level, n.ParentCode, parentLevel),
			}
		}
	}
	return nil
}
