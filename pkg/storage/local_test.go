package storage

import (
	"context"
	"io"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalUploadAndOpen(t *testing.T) {
	l := NewLocal(t.TempDir(), "http://localhost:8081", []byte("test-secret"))

	err := l.Upload(context.Background(), "u1/2024/01/doc.pdf", strings.NewReader("%PDF-fake"), "application/pdf")
	require.NoError(t, err)

	f, err := l.Open("u1/2024/01/doc.pdf")
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-fake", string(b))
}

func TestLocalSignedURLVerifies(t *testing.T) {
	l := NewLocal(t.TempDir(), "http://localhost:8081", []byte("test-secret"))

	signed, err := l.SignedURL(context.Background(), "u1/2024/01/doc.pdf", 60*time.Second)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	q := u.Query()
	exp, err := strconv.ParseInt(q.Get("exp"), 10, 64)
	require.NoError(t, err)

	assert.True(t, l.Verify(q.Get("path"), exp, q.Get("sig")))
	assert.False(t, l.Verify("u1/2024/01/other.pdf", exp, q.Get("sig")), "signature is path-bound")
	assert.False(t, l.Verify(q.Get("path"), exp+1, q.Get("sig")), "signature is expiry-bound")
}

func TestLocalSignedURLExpires(t *testing.T) {
	l := NewLocal(t.TempDir(), "http://localhost:8081", []byte("test-secret"))

	path := "u1/2024/01/doc.pdf"
	exp := time.Now().Add(-time.Second).Unix()
	assert.False(t, l.Verify(path, exp, l.sign(path, exp)))
}

func TestLocalOpenRejectsTraversal(t *testing.T) {
	l := NewLocal(t.TempDir(), "http://localhost:8081", []byte("test-secret"))

	_, err := l.Open("../etc/passwd")
	assert.Error(t, err)
	_, err = l.Open("/etc/passwd")
	assert.Error(t, err)
}
