package policy

import "strings"

// ToolFilter narrows a candidate tool-name list down to what policy
// permits, adapted from the allow/block-list filtering basic policy
// engines in this domain apply to tool candidates: explicit allow always
// wins over absence of a statement; an explicit block always removes a
// tool regardless of any allow entry.
type ToolFilter struct {
	allow map[string]struct{}
	block map[string]struct{}
}

// NewToolFilter builds a ToolFilter from the ToolPolicyStatement facts
// produced by ToolPolicyRules: a statement with allowed=true adds to the
// allow set, allowed=false adds to the block set. No statements at all
// means unrestricted.
func NewToolFilter(statements []ToolStatement) ToolFilter {
	tf := ToolFilter{}
	for _, s := range statements {
		name := strings.TrimSpace(s.Tool)
		if name == "" {
			continue
		}
		if s.Allowed {
			if tf.allow == nil {
				tf.allow = make(map[string]struct{})
			}
			tf.allow[name] = struct{}{}
			continue
		}
		if tf.block == nil {
			tf.block = make(map[string]struct{})
		}
		tf.block[name] = struct{}{}
	}
	return tf
}

// ToolStatement is the plain-Go projection of a ToolPolicyStatement fact,
// handed to NewToolFilter by whatever aggregated the FactMap.
type ToolStatement struct {
	Tool    string
	Allowed bool
}

// Allows reports whether name passes the filter: blocked entries are
// always rejected; when an allow-list is present, only its members pass;
// with neither list populated, everything passes.
func (tf ToolFilter) Allows(name string) bool {
	if _, blocked := tf.block[name]; blocked {
		return false
	}
	if len(tf.allow) > 0 {
		_, ok := tf.allow[name]
		return ok
	}
	return true
}

// Filter returns the subset of names that Allows accepts, preserving
// order and dropping duplicates.
func (tf ToolFilter) Filter(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if tf.Allows(name) {
			out = append(out, name)
		}
	}
	return out
}
