package ssh

import (
	"path/filepath"
	"testing"
)

func TestShQuoteEscapesSingleQuotes(t *testing.T) {
	got := shQuote("it's a test")
	want := `'it'\''s a test'`
	if got != want {
		t.Errorf("shQuote() = %q, want %q", got, want)
	}
}

func TestShJoinQuotesEachArgument(t *testing.T) {
	got := shJoin([]string{"echo", "a b", "c'd"})
	want := `'echo' 'a b' 'c'\''d'`
	if got != want {
		t.Errorf("shJoin() = %q, want %q", got, want)
	}
}

func TestLocalSourcePathHandlesSchemes(t *testing.T) {
	if got := localSourcePath("file:///tmp/a"); got != "/tmp/a" {
		t.Errorf("file:// = %q, want /tmp/a", got)
	}
	if got := localSourcePath("/plain/path"); got != "/plain/path" {
		t.Errorf("plain path = %q, want unchanged", got)
	}
	if got := localSourcePath("gs://bucket/object"); got != "" {
		t.Errorf("gs:// scheme should not resolve to a local path, got %q", got)
	}
}

func TestLocalPathFromURLHandlesSchemes(t *testing.T) {
	if got := localPathFromURL("file:///abs/out.txt", "/dest", "remote.txt"); got != "/abs/out.txt" {
		t.Errorf("file:// = %q, want /abs/out.txt", got)
	}
	if got := localPathFromURL("/bare/out.txt", "/dest", "remote.txt"); got != "/bare/out.txt" {
		t.Errorf("bare destURL = %q, want unchanged", got)
	}
	if got := localPathFromURL("gs://bucket/obj", "/dest", "remote.txt"); got != filepath.Join("/dest", "remote.txt") {
		t.Errorf("gs:// destURL should fall back to destDir/remote, got %q", got)
	}
	if got := localPathFromURL("", "/dest", "remote.txt"); got != filepath.Join("/dest", "remote.txt") {
		t.Errorf("empty destURL should fall back to destDir/remote, got %q", got)
	}
}
