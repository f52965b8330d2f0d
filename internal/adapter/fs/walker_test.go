package fs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func relPaths(t *testing.T, w *Walker, root string) []string {
	t.Helper()
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, f := range files {
		out = append(out, f.RelPath)
	}
	sort.Strings(out)
	return out
}

func TestWalker_ExtensionsAndIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"guide/auth.md":        "auth",
		"guide/deploy.RST":     "deploy",
		"notes.txt":            "notes",
		"main.go":              "package main",
		"drafts/wip.md":        "wip",
		"archive/old.md":       "old",
		"archive/keep.md":      "keep",
		"node_modules/x/a.md":  "vendored",
		"guide/scratch.tmp.md": "tmp",
		".cocoignore":          "# comment\ndrafts/\narchive/*\n!archive/keep.md\n*.tmp.md\n",
	})

	w := NewWalker([]string{".md", ".rst", ".txt"}, []string{"**/node_modules/**"}, ".cocoignore")
	got := relPaths(t, w, root)

	want := []string{"archive/keep.md", "guide/auth.md", "guide/deploy.RST", "notes.txt"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestWalker_MissingIgnoreFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.md": "a", "b/c.md": "c"})

	w := NewWalker([]string{".md"}, nil, ".cocoignore")
	got := relPaths(t, w, root)
	if len(got) != 2 {
		t.Errorf("expected 2 files, got %v", got)
	}
}

func TestIgnoreRules(t *testing.T) {
	rules := ParseIgnore([]string{
		"build/",
		"*.log",
		"!important.log",
		"/top.md",
		"docs/private/**",
	})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{"build", true, true},
		{"nested/build", true, true},
		{"build", false, false},
		{"build/out.md", false, true},
		{"debug.log", false, true},
		{"sub/debug.log", false, true},
		{"important.log", false, false},
		{"top.md", false, true},
		{"sub/top.md", false, false},
		{"docs/private/secret.md", false, true},
		{"docs/public.md", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := rules.Ignored(tt.path, tt.isDir); got != tt.want {
				t.Errorf("Ignored(%q, %v) = %v, want %v", tt.path, tt.isDir, got, tt.want)
			}
		})
	}
}

func TestIgnoreRules_Nil(t *testing.T) {
	var rules *IgnoreRules
	if rules.Ignored("a.md", false) {
		t.Error("nil rules must ignore nothing")
	}
}

func TestWalker_Accepts(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		".cocoignore": "drafts/\n*.tmp.md\n",
	})
	w := NewWalker([]string{".md"}, []string{"**/node_modules/**"}, ".cocoignore")

	tests := []struct {
		path string
		want bool
	}{
		{"guide/auth.md", true},
		{"guide/AUTH.MD", true},
		{"guide/auth.txt", false},
		{"drafts/wip.md", false},
		{"a/drafts/wip.md", false},
		{"notes.tmp.md", false},
		{"node_modules/x/a.md", false},
	}
	for _, tt := range tests {
		got, err := w.Accepts(root, tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Accepts(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if !w.SkipDir(root, "drafts") {
		t.Error("expected drafts to be skipped")
	}
	if w.SkipDir(root, "guide") {
		t.Error("expected guide to be walked")
	}
}
