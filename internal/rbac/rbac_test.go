package rbac

import "testing"

func TestCan(t *testing.T) {
	policy := NewPolicy([]string{"Hiplitehehe", " octocat ", ""})

	cases := []struct {
		name   string
		handle string
		action Action
		allow  bool
	}{
		{name: "listed approve", handle: "Hiplitehehe", action: ActionApprove, allow: true},
		{name: "case folded", handle: "hiplitehehe", action: ActionApprove, allow: true},
		{name: "trimmed entry", handle: "octocat", action: ActionApprove, allow: true},
		{name: "unlisted approve", handle: "mallory", action: ActionApprove, allow: false},
		{name: "empty handle", handle: "", action: ActionApprove, allow: false},
		{name: "unknown action", handle: "Hiplitehehe", action: Action("delete"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Can(tc.handle, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.handle, tc.action, got, tc.allow)
			}
		})
	}
	if policy.Len() != 2 {
		t.Fatalf("expected 2 approvers, got %d", policy.Len())
	}
}

func TestEmptyPolicyDeniesApproval(t *testing.T) {
	var zero Policy
	if zero.Can("anyone", ActionApprove) {
		t.Fatal("zero policy must deny approvals")
	}
	if NewPolicy(nil).Can("anyone", ActionApprove) {
		t.Fatal("empty policy must deny approvals")
	}
}
