// Package rbac holds the approver allow-list.
package rbac

import "strings"

type Action string

const ActionApprove Action = "approve"

// Policy is built once at startup and never changes. Handles compare
// case-insensitively, matching how GitHub treats logins.
type Policy struct {
	approvers map[string]struct{}
}

func NewPolicy(approvers []string) Policy {
	set := make(map[string]struct{}, len(approvers))
	for _, handle := range approvers {
		handle = normalize(handle)
		if handle == "" {
			continue
		}
		set[handle] = struct{}{}
	}
	return Policy{approvers: set}
}

// Can reports whether handle may perform action.
func (p Policy) Can(handle string, action Action) bool {
	if action != ActionApprove {
		return false
	}
	_, ok := p.approvers[normalize(handle)]
	return ok
}

func (p Policy) Len() int {
	return len(p.approvers)
}

func normalize(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
