package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Local stores objects under a base directory and signs download URLs with
// an HMAC over path and expiry, served back through the portal's /files
// endpoint.
type Local struct {
	baseDir string
	baseURL string
	secret  []byte
}

func NewLocal(baseDir, baseURL string, secret []byte) *Local {
	return &Local{baseDir: baseDir, baseURL: baseURL, secret: secret}
}

func (l *Local) Upload(ctx context.Context, path string, r io.Reader, contentType string) error {
	full := filepath.Join(l.baseDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	f, err := os.Create(full)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return err
	}
	return f.Close()
}

func (l *Local) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	exp := time.Now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("path", path)
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", l.sign(path, exp))
	return l.baseURL + "/files?" + q.Encode(), nil
}

// Verify checks a signed request's path, expiry and signature. Used by the
// /files handler; no session is required on that route.
func (l *Local) Verify(path string, exp int64, sig string) bool {
	if time.Now().Unix() > exp {
		return false
	}
	expected := l.sign(path, exp)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Open returns the stored object for serving.
func (l *Local) Open(path string) (*os.File, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("invalid object path %q", path)
	}
	return os.Open(filepath.Join(l.baseDir, clean))
}

func (l *Local) sign(path string, exp int64) string {
	mac := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(mac, "%s|%d", path, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
