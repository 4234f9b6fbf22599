package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/chatgate/internal/alert"
)

// fakeBinary writes content to a temp file and returns its path and digest.
func fakeBinary(t *testing.T, content string) (string, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatgate")
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	h := sha256.Sum256([]byte(content))
	return path, hex.EncodeToString(h[:])
}

func newTestVerifier(exePath string) *Verifier {
	return &Verifier{
		executable: func() (string, error) { return exePath, nil },
		now:        func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) },
	}
}

func TestVerifySkipsWhenNoExpectedHash(t *testing.T) {
	path, _ := fakeBinary(t, "binary")
	v := newTestVerifier(path)
	v.ChecksumPaths = []string{filepath.Join(t.TempDir(), "missing.sha256")}

	if err := v.Verify(); err != nil {
		t.Fatalf("expected skip, got %v", err)
	}
}

func TestVerifyPassesWithCorrectHash(t *testing.T) {
	path, digest := fakeBinary(t, "binary")
	v := newTestVerifier(path)
	v.Expected = strings.ToUpper(digest)

	if err := v.Verify(); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestVerifyFailsAndRecordsTamper(t *testing.T) {
	path, _ := fakeBinary(t, "patched binary")
	v := newTestVerifier(path)
	v.Expected = strings.Repeat("ab", 32)
	v.TamperLog = filepath.Join(t.TempDir(), "log", "tamper.jsonl")

	err := v.Verify()
	if err == nil {
		t.Fatal("expected mismatch error")
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("unexpected error %v", err)
	}

	data, err := os.ReadFile(v.TamperLog)
	if err != nil {
		t.Fatalf("tamper log not written: %v", err)
	}
	if !strings.Contains(string(data), `"expected_hash":"`+v.Expected+`"`) {
		t.Errorf("tamper log missing expected hash: %s", data)
	}
	if !strings.Contains(string(data), `"timestamp":"2026-10-19T09:00:00.000Z"`) {
		t.Errorf("tamper log missing timestamp: %s", data)
	}

	info, err := os.Stat(v.TamperLog)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600, got %o", info.Mode().Perm())
	}
}

func TestVerifyAlertsOnTamper(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = string(data)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	path, _ := fakeBinary(t, "patched binary")
	v := newTestVerifier(path)
	v.Expected = strings.Repeat("cd", 32)
	v.Alerts = alert.NewDispatcher([]alert.Target{{URL: ts.URL, Events: []string{alert.EventBinaryTamper}}}, nil)

	if err := v.Verify(); err == nil {
		t.Fatal("expected mismatch error")
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(body, `"type":"binary_tamper"`) {
		t.Errorf("expected tamper alert, got %q", body)
	}
}

func TestVerifyUsesChecksumFile(t *testing.T) {
	path, digest := fakeBinary(t, "binary")
	sumFile := filepath.Join(t.TempDir(), "binary.sha256")
	os.WriteFile(sumFile, []byte(digest+"\n"), 0o644)

	v := newTestVerifier(path)
	v.ChecksumPaths = []string{filepath.Join(t.TempDir(), "missing"), sumFile}
	if err := v.Verify(); err != nil {
		t.Fatalf("expected pass via checksum file, got %v", err)
	}
}

func TestLoadChecksumFileRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.sha256")
	os.WriteFile(bad, []byte("not-a-digest"), 0o644)
	odd := filepath.Join(dir, "odd.sha256")
	os.WriteFile(odd, []byte(strings.Repeat("z", 64)), 0o644)

	if got := loadChecksumFile([]string{bad, odd}); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}

func TestHashFileNonExistent(t *testing.T) {
	if _, err := HashFile(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHashSelfReturns64CharHex(t *testing.T) {
	h, err := HashSelf()
	if err != nil {
		t.Fatalf("HashSelf: %v", err)
	}
	if len(h) != 64 || !isHex(h) {
		t.Errorf("expected 64-char hex, got %q", h)
	}
}
