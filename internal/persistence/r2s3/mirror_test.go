package r2s3

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestClient_PutFileSignsPathStyleRequest(t *testing.T) {
	type seen struct {
		method, path, contentType, auth, date, payloadHash, body string
	}
	var got seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = seen{
			method:      r.Method,
			path:        r.URL.EscapedPath(),
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			date:        r.Header.Get("x-amz-date"),
			payloadHash: r.Header.Get("x-amz-content-sha256"),
			body:        string(b),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "logs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.signer.now = func() time.Time { return time.Date(2024, 5, 1, 11, 0, 5, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "2024-05-01_10.ljson.zst")
	writeFile(t, local, "payload")
	if err := c.PutFile(context.Background(), "/enoch/archive/2024-05-01_10.ljson.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	want := seen{
		method:      http.MethodPut,
		path:        "/logs/enoch/archive/2024-05-01_10.ljson.zst",
		contentType: "application/zstd",
		date:        "20240501T110005Z",
		payloadHash: sha256Hex([]byte("payload")),
		body:        "payload",
	}
	auth := got.auth
	got.auth = ""
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(seen{})); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
	prefix := "AWS4-HMAC-SHA256 Credential=AK/20240501/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(auth, prefix) || len(auth) != len(prefix)+64 {
		t.Fatalf("unexpected authorization header %q", auth)
	}
}

func TestClient_PutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "logs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	local := filepath.Join(t.TempDir(), "a.json")
	writeFile(t, local, "{}")
	err = c.PutFile(context.Background(), "a.json", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("expected status error, got %v", err)
	}
	if err := c.PutFile(context.Background(), "../", local); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example.com", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without keys")
	}
	c, err := New(Config{Endpoint: "r2.example.com/", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL.String() != "https://r2.example.com" || c.signer.region != DefaultRegion {
		t.Fatalf("endpoint=%q region=%q", c.baseURL, c.signer.region)
	}
}

func TestClient_HeadObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead || r.Header.Get("x-amz-content-sha256") != emptyPayloadHash {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/logs/enoch/a.ljson.zst":
			w.Header().Set("Content-Length", "42")
			w.WriteHeader(http.StatusOK)
		case "/logs/enoch/boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "logs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if n, ok, err := c.HeadObject(ctx, "enoch/a.ljson.zst"); err != nil || !ok || n != 42 {
		t.Fatalf("HeadObject existing = %d %v %v", n, ok, err)
	}
	if _, ok, err := c.HeadObject(ctx, "enoch/missing"); err != nil || ok {
		t.Fatalf("HeadObject missing = %v %v", ok, err)
	}
	if _, _, err := c.HeadObject(ctx, "enoch/boom"); err == nil {
		t.Fatalf("expected status error")
	}
}

type fakePutter struct {
	mu       sync.Mutex
	failures int
	keys     []string
	calls    int
}

func (f *fakePutter) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("boom")
	}
	f.keys = append(f.keys, key)
	return nil
}

type statPutter struct {
	fakePutter
	remote map[string]int64
}

func (s *statPutter) HeadObject(_ context.Context, key string) (int64, bool, error) {
	n, ok := s.remote[key]
	return n, ok, nil
}

func TestMirror_SkipsObjectsAlreadyUploaded(t *testing.T) {
	base := t.TempDir()
	same := filepath.Join(base, "archive", "2024-05-01_09.ljson.zst")
	changed := filepath.Join(base, "archive", "2024-05-01_10.ljson.zst")
	writeFile(t, same, "abc")
	writeFile(t, changed, "abcdef")

	p := &statPutter{remote: map[string]int64{
		"archive/2024-05-01_09.ljson.zst": 3,
		"archive/2024-05-01_10.ljson.zst": 3,
	}}
	m := NewMirror(p, MirrorConfig{BaseDir: base, SkipExisting: true})
	m.Enqueue(same)
	m.Enqueue(changed)
	m.Close()

	if diff := cmp.Diff([]string{"archive/2024-05-01_10.ljson.zst"}, p.keys); diff != "" {
		t.Fatalf("uploaded keys (-want +got):\n%s", diff)
	}
	st := m.Stats()
	if st.SkippedTotal != 1 || st.UploadSuccessTotal != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestMirror_UploadsWithPrefixAndRetries(t *testing.T) {
	base := t.TempDir()
	archivePath := filepath.Join(base, "archive", "2024-05-01_10.ljson.zst")
	writeFile(t, archivePath, "x")

	p := &fakePutter{failures: 2}
	m := NewMirror(p, MirrorConfig{BaseDir: base, Prefix: "/enoch/", RetryBackoff: time.Millisecond})
	if !m.Enqueue(archivePath) {
		t.Fatalf("Enqueue rejected")
	}
	m.Close()

	if diff := cmp.Diff([]string{"enoch/archive/2024-05-01_10.ljson.zst"}, p.keys); diff != "" {
		t.Fatalf("keys (-want +got):\n%s", diff)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 1 || st.UploadFailTotal != 0 || st.EnqueuedTotal != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if p.calls != 3 {
		t.Fatalf("calls=%d want=3", p.calls)
	}
}

func TestMirror_GivesUpAfterMaxAttempts(t *testing.T) {
	base := t.TempDir()
	local := filepath.Join(base, "archive", "a.meta.json")
	writeFile(t, local, "{}")

	p := &fakePutter{failures: 100}
	m := NewMirror(p, MirrorConfig{BaseDir: base, MaxAttempts: 2, RetryBackoff: time.Millisecond})
	m.Enqueue(local)
	m.Close()

	st := m.Stats()
	if st.UploadFailTotal != 1 || st.UploadSuccessTotal != 0 || st.LastErrorUnix == 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if p.calls != 2 {
		t.Fatalf("calls=%d want=2", p.calls)
	}
}

func TestMirror_ObjectKeyRejectsOutsideBase(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(t.TempDir(), "x.ljson")
	writeFile(t, outside, "")

	m := NewMirror(&fakePutter{}, MirrorConfig{BaseDir: base})
	defer m.Close()
	if _, err := m.ObjectKey(outside); err == nil {
		t.Fatalf("expected outside-base error")
	}
	if _, err := m.ObjectKey(filepath.Join(base, "missing")); err == nil {
		t.Fatalf("expected stat error")
	}
}

func TestMirror_NilIsInert(t *testing.T) {
	var m *Mirror
	if m.Enqueue("x") {
		t.Fatalf("nil mirror accepted job")
	}
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("nil mirror stats not zero")
	}
}
