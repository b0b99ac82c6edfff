package store

import (
	"reflect"
	"testing"
)

func TestSplitAndJoinPath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"/", []string{}},
		{"classes/4b/state", []string{"classes", "4b", "state"}},
		{"/classes//4b/", []string{"classes", "4b"}},
	}
	for _, tc := range tests {
		if got := SplitPath(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("SplitPath(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
	if got := JoinPath("boards/", "/ABC234", "posts"); got != "boards/ABC234/posts" {
		t.Fatalf("JoinPath = %q", got)
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"classes/4b", "classes/4b/state", true},
		{"classes/4b/state", "classes/4b", true},
		{"classes/4b/state", "classes/4b/state", true},
		{"classes/4b/state", "classes/5a/state", false},
		{"", "anything", true},
	}
	for _, tc := range tests {
		if got := overlaps(SplitPath(tc.a), SplitPath(tc.b)); got != tc.want {
			t.Fatalf("overlaps(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestAssignAndLookup(t *testing.T) {
	var root any
	root = assign(root, []string{"a", "b"}, "x")
	root = assign(root, []string{"a", "c"}, 1.0)
	if got := lookup(root, []string{"a", "b"}); got != "x" {
		t.Fatalf("lookup a/b = %v", got)
	}
	root = assign(root, []string{"a", "b"}, nil)
	root = assign(root, []string{"a", "c"}, nil)
	if root != nil {
		t.Fatalf("expected empty tree, got %v", root)
	}
	if got := assign("scalar", []string{"x"}, nil); got != "scalar" {
		t.Fatalf("deleting below a scalar must keep it, got %v", got)
	}
}

func TestNormalizePrunesNested(t *testing.T) {
	got, err := normalize(map[string]any{
		"keep": []any{nil, "a", map[string]any{}},
		"drop": map[string]any{"inner": []any{}},
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := map[string]any{"keep": []any{"a"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("normalize = %v, want %v", got, want)
	}
}

func TestPrefixes(t *testing.T) {
	parts := []string{"a", "b", "c"}
	if got := prefixes(parts, true); !reflect.DeepEqual(got, []string{"a", "a/b", "a/b/c"}) {
		t.Fatalf("prefixes self = %v", got)
	}
	if got := prefixes(parts, false); !reflect.DeepEqual(got, []string{"a", "a/b"}) {
		t.Fatalf("prefixes strict = %v", got)
	}
	if got := prefixes(nil, false); len(got) != 0 {
		t.Fatalf("prefixes of root = %v", got)
	}
}
