package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sdlite/sdlite-setup/internal/download"
	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/progress"
)

func TestScheme(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://github.com/x/y.zip", "https"},
		{"HTTP://example.com/a.zip", "http"},
		{"s3://mirror/sdl2.zip", "s3"},
		{"file:///tmp/a.zip", "file"},
		{"/tmp/a.zip", ""},
		{"archives/a.zip", ""},
	}
	for _, tt := range tests {
		if got := Scheme(tt.in); got != tt.want {
			t.Errorf("Scheme(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in          string
		bucket, key string
		wantErr     bool
	}{
		{"s3://mirror/sdl/SDL2-devel-2.32.10-mingw.zip", "mirror", "sdl/SDL2-devel-2.32.10-mingw.zip", false},
		{"s3://mirror/", "", "", true},
		{"s3:///key.zip", "", "", true},
		{"https://mirror/key.zip", "", "", true},
	}
	for _, tt := range tests {
		b, k, err := ParseS3URL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseS3URL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if b != tt.bucket || k != tt.key {
			t.Errorf("ParseS3URL(%q) = %q, %q", tt.in, b, k)
		}
	}
}

func TestLocalFetcher(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "SDL2.zip")
	payload := strings.Repeat("s", 150*1024)
	if err := os.WriteFile(src, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, rawURL := range []string{src, "file://" + filepath.ToSlash(src)} {
		dst := filepath.Join(root, ".downloads", "sdl2.zip")
		n, err := LocalFetcher{}.Fetch(context.Background(), rawURL, dst, progress.Nop{})
		if err != nil {
			t.Fatalf("Fetch(%s): %v", rawURL, err)
		}
		if n != int64(len(payload)) {
			t.Errorf("Fetch(%s) = %d bytes, want %d", rawURL, n, len(payload))
		}
		if info, err := os.Stat(dst); err != nil || info.Size() != n {
			t.Errorf("dst stat = %v, %v", info, err)
		}
	}
}

func TestLocalFetcherMissing(t *testing.T) {
	root := t.TempDir()
	_, err := LocalFetcher{}.Fetch(context.Background(), filepath.Join(root, "nope.zip"), filepath.Join(root, "out.zip"), progress.Nop{})
	if _, ok := fsutil.AsError(err); !ok {
		t.Fatalf("expected filesystem Error, got %v", err)
	}
}

type fakeS3 struct {
	body   string
	err    error
	bucket string
	key    string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = aws.ToString(in.Bucket), aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(f.body)),
		ContentLength: aws.Int64(int64(len(f.body))),
	}, nil
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "api error" }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestS3Fetcher(t *testing.T) {
	fake := &fakeS3{body: strings.Repeat("z", 4096)}
	f := NewS3FetcherWithClient(fake)
	dst := filepath.Join(t.TempDir(), "sdl2.zip")

	n, err := f.Fetch(context.Background(), "s3://mirror/sdl/sdl2.zip", dst, progress.Nop{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if n != 4096 {
		t.Errorf("bytes = %d, want 4096", n)
	}
	if fake.bucket != "mirror" || fake.key != "sdl/sdl2.zip" {
		t.Errorf("requested %s/%s", fake.bucket, fake.key)
	}
}

func TestS3FetcherErrors(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "a.zip")

	f := NewS3FetcherWithClient(&fakeS3{err: statusErr{code: 404}})
	_, err := f.Fetch(context.Background(), "s3://mirror/a.zip", dst, progress.Nop{})
	if he, ok := download.AsHTTPStatusError(err); !ok || he.StatusCode != 404 {
		t.Errorf("expected HTTPStatusError 404, got %v", err)
	}

	f = NewS3FetcherWithClient(&fakeS3{err: errors.New("dial tcp: refused")})
	_, err = f.Fetch(context.Background(), "s3://mirror/a.zip", dst, progress.Nop{})
	if _, ok := download.AsNetworkError(err); !ok {
		t.Errorf("expected NetworkError, got %v", err)
	}
}

type namedFetcher struct{ name string }

func (n namedFetcher) Type() string { return n.name }
func (n namedFetcher) Fetch(context.Context, string, string, progress.Sink) (int64, error) {
	return 0, nil
}

func TestRouterResolve(t *testing.T) {
	r := NewRouter(namedFetcher{"http"}, S3Config{}).WithS3(namedFetcher{"s3"})

	tests := []struct{ url, want string }{
		{"https://example.com/a.zip", "http"},
		{"http://example.com/a.zip", "http"},
		{"s3://bucket/a.zip", "s3"},
		{"file:///tmp/a.zip", "local"},
		{"/tmp/a.zip", "local"},
	}
	for _, tt := range tests {
		f, err := r.Resolve(context.Background(), tt.url)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", tt.url, err)
		}
		if f.Type() != tt.want {
			t.Errorf("Resolve(%s) = %s, want %s", tt.url, f.Type(), tt.want)
		}
	}

	if _, err := r.Resolve(context.Background(), "ftp://example.com/a.zip"); err == nil {
		t.Error("expected an error for an unsupported scheme")
	}
}
