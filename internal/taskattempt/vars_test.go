package taskattempt

import (
	"reflect"
	"testing"
)

func TestExpandVarsBothSyntaxes(t *testing.T) {
	vars := map[string]string{"REPO": "counterspell", "BRANCH": "main"}
	got, undefined := ExpandVars("clone ${REPO} on $BRANCH please", vars)
	if got != "clone counterspell on main please" {
		t.Fatalf("unexpected expansion: %q", got)
	}
	if len(undefined) != 0 {
		t.Fatalf("expected no undefined vars, got %v", undefined)
	}
}

func TestExpandVarsLeavesUndefinedVerbatim(t *testing.T) {
	got, undefined := ExpandVars("use $MISSING here", map[string]string{})
	if got != "use $MISSING here" {
		t.Fatalf("expected verbatim, got %q", got)
	}
	if !reflect.DeepEqual(undefined, []string{"MISSING"}) {
		t.Fatalf("expected MISSING reported, got %v", undefined)
	}
}

func TestMergeVarChainChildOverridesAncestor(t *testing.T) {
	chain := []map[string]string{
		{"REPO": "ancestor-repo", "BRANCH": "main"},
		{"REPO": "child-repo"},
	}
	merged := MergeVarChain(chain)
	if merged["REPO"] != "child-repo" {
		t.Fatalf("expected child to override ancestor, got %q", merged["REPO"])
	}
	if merged["BRANCH"] != "main" {
		t.Fatalf("expected ancestor-only var to survive, got %q", merged["BRANCH"])
	}
}
