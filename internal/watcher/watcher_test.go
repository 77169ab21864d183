package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/documents"
)

// recorder collects onChange calls.
type recorder struct {
	mu     sync.Mutex
	scopes []string
}

func (r *recorder) onChange(scope string) {
	r.mu.Lock()
	r.scopes = append(r.scopes, scope)
	r.mu.Unlock()
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.scopes...)
	sort.Strings(out)
	return out
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// byBaseName maps a/b/x.txt to scope "x".
func byBaseName(path string) []string {
	base := filepath.Base(path)
	return []string{base[:len(base)-len(filepath.Ext(base))]}
}

func startWatcher(t *testing.T, roots []string, exts []string, resolve func(string) []string, rec *recorder) *Watcher {
	t.Helper()
	w := NewWatcher(roots, exts, resolve, rec.onChange, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesPerScope(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, func(string) []string { return []string{"global"} }, rec)

	for i := 0; i < 5; i++ {
		if err := writeFile(filepath.Join(dir, "a.txt"), "v"+string(rune('0'+i))); err != nil {
			t.Fatal(err)
		}
	}
	waitFor(t, func() bool { return len(rec.got()) > 0 })
	time.Sleep(150 * time.Millisecond)
	if got := rec.got(); len(got) != 1 || got[0] != "global" {
		t.Errorf("expected a single global change, got %v", got)
	}
}

func TestWatcher_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt"}, byBaseName, rec)

	if err := writeFile(filepath.Join(dir, "ignored.swp"), "x"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "kept.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.got()) > 0 })
	time.Sleep(150 * time.Millisecond)
	if got := rec.got(); len(got) != 1 || got[0] != "kept" {
		t.Errorf("got %v, want [kept]", got)
	}
}

func TestWatcher_RemoveTouchesScope(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	if err := writeFile(path, "x"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	startWatcher(t, []string{dir}, nil, byBaseName, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.got()) > 0 })
	if got := rec.got(); len(got) != 1 || got[0] != "gone" {
		t.Errorf("got %v, want [gone]", got)
	}
}

func TestWatcher_NewDirectoryIsWatchedRecursively(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, []string{dir}, []string{".txt", ".md"}, byBaseName, rec)

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	// Let the watcher register the new directories before writing into them.
	time.Sleep(100 * time.Millisecond)
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep content"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "notes.md"), "notes"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.got()) >= 2 })
	got := rec.got()
	if len(got) != 2 || got[0] != "deep" || got[1] != "notes" {
		t.Errorf("got %v, want [deep notes]", got)
	}
}

func TestWatcher_WithDocumentStore(t *testing.T) {
	dir := t.TempDir()
	portfolio := filepath.Join(dir, "portfolio")
	projects := filepath.Join(dir, "projects")
	store := documents.NewStore(config.DocumentsConfig{
		Global:      []string{filepath.Join(portfolio, "**", "*.md")},
		ProjectsDir: projects,
		Extensions:  []string{".pdf", ".md"},
	}, nil)

	rec := &recorder{}
	w := startWatcher(t, store.WatchRoots(), nil, store.ScopesFor, rec)
	if len(w.Directories()) != 2 {
		t.Fatalf("roots: %v", w.Directories())
	}

	if err := writeFile(filepath.Join(portfolio, "bio.md"), "bio"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(projects, "shop.md"), "shop"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(projects, "notes.txt"), "not a project source"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(rec.got()) >= 2 })
	time.Sleep(150 * time.Millisecond)
	got := rec.got()
	if len(got) != 2 || got[0] != "global" || got[1] != "shop" {
		t.Errorf("got %v, want [global shop]", got)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "watch", "me")
	startWatcher(t, []string{root}, nil, byBaseName, &recorder{})
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_StopDropsPending(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := NewWatcher([]string{dir}, nil, byBaseName, rec.onChange, WithDebounce(200*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "a.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(300 * time.Millisecond)
	if got := rec.got(); len(got) != 0 {
		t.Errorf("no callback expected after Stop, got %v", got)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b.pdf", []string{"pdf"}, true},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0600)
}
