package sourceio

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

func writeTemp(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func readAll(t *testing.T, path string) (*Source, []byte) {
	t.Helper()
	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { src.Close() })
	data, err := io.ReadAll(src)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return src, data
}

func TestOpenPlain(t *testing.T) {
	payload := []byte("plain transport stream bytes")
	path := writeTemp(t, "input.ts", payload)

	src, data := readAll(t, path)
	if src.Compression != "none" {
		t.Errorf("compression = %q, want none", src.Compression)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data mismatch: got %q", data)
	}
}

func TestOpenGzip(t *testing.T) {
	payload := []byte("gzip compressed payload")
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write(payload)
	gw.Close()
	path := writeTemp(t, "input.ts.gz", buf.Bytes())

	src, data := readAll(t, path)
	if src.Compression != "gzip" {
		t.Errorf("compression = %q, want gzip", src.Compression)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data mismatch: got %q", data)
	}
}

func TestOpenBzip2(t *testing.T) {
	payload := []byte("bzip2 compressed payload")
	var buf bytes.Buffer
	bw, err := bzip2.NewWriter(&buf, nil)
	if err != nil {
		t.Fatalf("creating bzip2 writer: %v", err)
	}
	bw.Write(payload)
	bw.Close()
	path := writeTemp(t, "input.ts.bz2", buf.Bytes())

	src, data := readAll(t, path)
	if src.Compression != "bzip2" {
		t.Errorf("compression = %q, want bzip2", src.Compression)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data mismatch: got %q", data)
	}
}

func TestOpenXZ(t *testing.T) {
	payload := []byte("xz compressed payload")
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("creating xz writer: %v", err)
	}
	xw.Write(payload)
	xw.Close()
	path := writeTemp(t, "input.ts.xz", buf.Bytes())

	src, data := readAll(t, path)
	if src.Compression != "xz" {
		t.Errorf("compression = %q, want xz", src.Compression)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data mismatch: got %q", data)
	}
}

func TestOpenBrotliByExtension(t *testing.T) {
	payload := []byte("brotli compressed payload")
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	bw.Write(payload)
	bw.Close()
	path := writeTemp(t, "input.ts.br", buf.Bytes())

	src, data := readAll(t, path)
	if src.Compression != "brotli" {
		t.Errorf("compression = %q, want brotli", src.Compression)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("data mismatch: got %q", data)
	}
}

func TestOpenShortFile(t *testing.T) {
	path := writeTemp(t, "tiny.ts", []byte{0x47})

	src, data := readAll(t, path)
	if src.Compression != "none" {
		t.Errorf("compression = %q, want none", src.Compression)
	}
	if len(data) != 1 || data[0] != 0x47 {
		t.Errorf("data mismatch: got %v", data)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope.ts")); err == nil {
		t.Error("expected error for missing file")
	}
}
