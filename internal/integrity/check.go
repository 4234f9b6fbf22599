// Package integrity verifies the running binary against a checksum fixed
// at build time or installed alongside it. A mismatch is recorded as a
// tamper event and the gate refuses to start.
package integrity

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	simdsha "github.com/minio/sha256-simd"

	"github.com/ppiankov/chatgate/internal/alert"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/chatgate/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty, verification falls back to a checksum file.
var ExpectedHash string

// DefaultChecksumPaths are checked in order for a file holding one
// hex-encoded SHA-256 digest.
var DefaultChecksumPaths = []string{
	"/etc/chatgate/binary.sha256",
	"$HOME/.chatgate/binary.sha256",
}

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
}

// Verifier checks one executable.
type Verifier struct {
	Expected      string
	ChecksumPaths []string
	// TamperLog is the JSONL file tamper events are appended to; empty
	// disables it.
	TamperLog string
	Alerts    *alert.Dispatcher
	Logger    *slog.Logger

	executable func() (string, error)
	now        func() time.Time
}

// NewVerifier returns a Verifier for the running binary using
// ExpectedHash and DefaultChecksumPaths.
func NewVerifier(tamperLog string, alerts *alert.Dispatcher, logger *slog.Logger) *Verifier {
	return &Verifier{
		Expected:      ExpectedHash,
		ChecksumPaths: DefaultChecksumPaths,
		TamperLog:     tamperLog,
		Alerts:        alerts,
		Logger:        logger,
	}
}

// Verify returns nil when the binary matches or no expected hash is
// available (dev builds). On mismatch the tamper event is logged,
// appended to TamperLog and alerted before the error is returned.
func (v *Verifier) Verify() error {
	logger := v.Logger
	if logger == nil {
		logger = slog.Default()
	}

	expected := strings.ToLower(v.Expected)
	if expected == "" {
		expected = loadChecksumFile(v.ChecksumPaths)
	}
	if expected == "" {
		logger.Warn("integrity check skipped: no build-time hash or checksum file")
		return nil
	}

	exe := v.executable
	if exe == nil {
		exe = os.Executable
	}
	exePath, err := exe()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	actual, err := HashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		logger.Info("binary checksum verified", "sha256", actual[:12])
		return nil
	}

	now := time.Now
	if v.now != nil {
		now = v.now
	}
	event := TamperEvent{
		Timestamp:    now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
	}
	event.Hostname, _ = os.Hostname()

	logger.Error("binary checksum mismatch", "binary", exePath, "expected", expected, "actual", actual)
	if err := v.appendTamperLog(event); err != nil {
		logger.Error("tamper log write failed", "error", err)
	}
	if v.Alerts != nil {
		v.Alerts.Dispatch(alert.Event{
			Timestamp: event.Timestamp,
			Type:      alert.EventBinaryTamper,
			Message:   "binary checksum mismatch",
			Detail:    fmt.Sprintf("%s on %s: expected %s, got %s", exePath, event.Hostname, expected, actual),
		})
		// We are about to exit.
		v.Alerts.Wait()
	}

	return fmt.Errorf("integrity: binary checksum mismatch (expected %s, got %s)", expected, actual)
}

func (v *Verifier) appendTamperLog(event TamperEvent) error {
	if v.TamperLog == "" {
		return nil
	}
	line, err := sonic.ConfigStd.Marshal(event)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(v.TamperLog), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(v.TamperLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := simdsha.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashSelf returns the SHA-256 of the running binary, for writing a
// checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return HashFile(exePath)
}

// loadChecksumFile returns the first well-formed digest found, or "".
func loadChecksumFile(paths []string) string {
	for _, p := range paths {
		data, err := os.ReadFile(os.ExpandEnv(p))
		if err != nil {
			continue
		}
		hash := strings.ToLower(strings.TrimSpace(string(data)))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
