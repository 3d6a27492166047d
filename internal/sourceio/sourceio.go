// Package sourceio opens input files with transparent decompression, so
// archived captures (.ts.gz, .ts.bz2, .ts.xz, .ts.br) feed the demuxer
// directly. Compression is detected from magic bytes, not the file name,
// with brotli falling back to the extension since the format has no magic.
package sourceio

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/ulikunitz/xz"
)

// Source is a readable input with its detected compression.
type Source struct {
	reader io.Reader
	file   *os.File

	// Compression is "none", "gzip", "bzip2", "xz", or "brotli".
	Compression string
}

// Read implements io.Reader.
func (s *Source) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close closes the underlying file.
func (s *Source) Close() error {
	return s.file.Close()
}

// Open opens path and wraps it with the appropriate decompressor.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	src, err := wrap(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// wrap detects compression from magic bytes and builds the reader chain.
func wrap(f *os.File, path string) (*Source, error) {
	br := bufio.NewReader(f)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("peeking header: %w", err)
	}

	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return &Source{reader: gzr, file: f, Compression: "gzip"}, nil

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		return &Source{reader: bzip2.NewReader(br), file: f, Compression: "bzip2"}, nil

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' && header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return &Source{reader: xzr, file: f, Compression: "xz"}, nil

	case strings.HasSuffix(path, ".br"):
		return &Source{reader: brotli.NewReader(br), file: f, Compression: "brotli"}, nil
	}

	return &Source{reader: br, file: f, Compression: "none"}, nil
}
