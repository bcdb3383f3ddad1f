// Package hasher provides streaming SHA256 file hashing and metadata extraction.
package hasher

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Metadata holds computed file metadata.
type Metadata struct {
	Hash      string // hex-encoded SHA256
	Size      int64
	Extension string
	MimeType  string
	Lines     int
}

// ComputeMetadata streams the file through SHA256 and returns its metadata.
func ComputeMetadata(filePath string) (*Metadata, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("hasher: open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("hasher: read head: %w", err)
	}
	mimeType := http.DetectContentType(head[:n])

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("hasher: seek: %w", err)
	}

	h := sha256.New()
	lc := &lineCounter{}
	size, err := io.Copy(io.MultiWriter(h, lc), f)
	if err != nil {
		return nil, fmt.Errorf("hasher: copy: %w", err)
	}

	return &Metadata{
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Size:      size,
		Extension: filepath.Ext(filePath),
		MimeType:  mimeType,
		Lines:     lc.lines(),
	}, nil
}

// HashBytes returns the hex SHA256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile returns only the hex SHA256 of a file.
func HashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("hasher: open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, bufio.NewReader(f)); err != nil {
		return "", fmt.Errorf("hasher: copy: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type lineCounter struct {
	n       int
	last    byte
	written bool
}

func (c *lineCounter) Write(p []byte) (int, error) {
	c.n += bytes.Count(p, []byte{'\n'})
	if len(p) > 0 {
		c.last = p[len(p)-1]
		c.written = true
	}
	return len(p), nil
}

// lines counts a trailing unterminated line as a line.
func (c *lineCounter) lines() int {
	if c.written && c.last != '\n' {
		return c.n + 1
	}
	return c.n
}
