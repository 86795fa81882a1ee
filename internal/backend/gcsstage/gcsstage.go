// Package gcsstage is a small staging helper, not a Backend itself: it
// gives the local and ssh Backends a way to resolve an input/output URL
// with a "gs://" scheme (SPEC_FULL.md §4.13), recovered from
// gc3pie's support for remote source URLs alongside plain local paths.
package gcsstage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// IsGCSURL reports whether src uses the gs:// scheme this package stages.
func IsGCSURL(url string) bool {
	return strings.HasPrefix(url, "gs://")
}

// ParseGCSURL splits "gs://bucket/object/path" into its bucket and object.
func ParseGCSURL(url string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(url, "gs://")
	i := strings.IndexByte(rest, '/')
	if i < 0 || i == 0 || i == len(rest)-1 {
		return "", "", fmt.Errorf("gcsstage: malformed url %q", url)
	}
	return rest[:i], rest[i+1:], nil
}

// NewClient builds a storage client using GOOGLE_APPLICATION_CREDENTIALS
// (or its _JSON variant) the same way the rest of this codebase's GCP
// clients resolve credentials, falling back to Application Default
// Credentials when neither is set.
func NewClient(ctx context.Context) (*storage.Client, error) {
	opts := clientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcsstage: new client: %w", err)
	}
	return c, nil
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// Download copies the object named by a gs:// URL to destPath on the local
// filesystem, creating destPath's parent directories as needed.
func Download(ctx context.Context, c *storage.Client, gcsURL, destPath string) error {
	bucket, object, err := ParseGCSURL(gcsURL)
	if err != nil {
		return err
	}
	r, err := c.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("gcsstage: open reader %s: %w", gcsURL, err)
	}
	defer r.Close()

	if err := os.MkdirAll(parentDir(destPath), 0o755); err != nil {
		return fmt.Errorf("gcsstage: mkdir for %s: %w", destPath, err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("gcsstage: create %s: %w", destPath, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("gcsstage: download %s: %w", gcsURL, err)
	}
	return nil
}

// Upload copies srcPath to the object named by a gs:// URL.
func Upload(ctx context.Context, c *storage.Client, srcPath, gcsURL string) error {
	bucket, object, err := ParseGCSURL(gcsURL)
	if err != nil {
		return err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("gcsstage: open %s: %w", srcPath, err)
	}
	defer f.Close()

	w := c.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcsstage: upload %s: %w", gcsURL, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcsstage: close writer for %s: %w", gcsURL, err)
	}
	return nil
}

func parentDir(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	return path[:i]
}
