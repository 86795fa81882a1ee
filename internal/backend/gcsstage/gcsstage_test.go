package gcsstage

import "testing"

func TestIsGCSURL(t *testing.T) {
	if !IsGCSURL("gs://bucket/obj") {
		t.Error("gs:// url should be detected")
	}
	if IsGCSURL("/local/path") {
		t.Error("a local path should not be detected as a gs:// url")
	}
	if IsGCSURL("https://example.com/obj") {
		t.Error("an unrelated scheme should not be detected as gs://")
	}
}

func TestParseGCSURLSplitsBucketAndObject(t *testing.T) {
	bucket, object, err := ParseGCSURL("gs://my-bucket/dir/file.dat")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "my-bucket" || object != "dir/file.dat" {
		t.Errorf("got bucket=%q object=%q", bucket, object)
	}
}

func TestParseGCSURLRejectsMalformedInput(t *testing.T) {
	cases := []string{
		"gs://",
		"gs://bucket-only",
		"gs://bucket/",
		"gs:///object",
	}
	for _, in := range cases {
		if _, _, err := ParseGCSURL(in); err == nil {
			t.Errorf("ParseGCSURL(%q) should have failed", in)
		}
	}
}

func TestParentDir(t *testing.T) {
	if got := parentDir("/a/b/c.txt"); got != "/a/b" {
		t.Errorf("parentDir() = %q, want /a/b", got)
	}
	if got := parentDir("file.txt"); got != "." {
		t.Errorf("parentDir() = %q, want .", got)
	}
}
