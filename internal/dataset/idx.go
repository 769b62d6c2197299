// Package dataset reads labelled image sets stored as IDX ubyte files,
// optionally gzip-compressed, and slices them into normalized batches.
package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801
)

var (
	// ErrShortFile is returned when a file ends before its header says it should.
	ErrShortFile = errors.New("dataset file too short")
	// ErrBadMagic is returned for a file that is not an IDX ubyte file of the expected kind.
	ErrBadMagic = errors.New("bad IDX magic number")
)

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// open returns a reader over the decompressed file contents. Gzip input is
// detected from its magic bytes.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	br := bufio.NewReader(f)
	head, err := br.Peek(2)
	if err == nil && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "gzip %s", path)
		}
		return &readCloser{Reader: gz, closers: []io.Closer{f, gz}}, nil
	}
	return &readCloser{Reader: br, closers: []io.Closer{f}}, nil
}

func readHeader(r io.Reader, fields []uint32) error {
	if err := binary.Read(r, binary.BigEndian, fields); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.Wrap(ErrShortFile, "header")
		}
		return errors.Wrap(err, "header")
	}
	return nil
}

// maxBody bounds the body size a header may declare.
const maxBody = 1<<31 - 1

// bodySize multiplies the header dimensions, failing past maxBody.
func bodySize(dims ...int) (int, error) {
	n := 1
	for _, d := range dims {
		if d != 0 && n > maxBody/d {
			return 0, errors.Wrapf(ErrShortFile, "header declares %v, more than %d bytes", dims, maxBody)
		}
		n *= d
	}
	return n, nil
}

// readBody reads exactly n bytes. The buffer grows with the data actually
// present, so a corrupt header cannot force a large allocation.
func readBody(r io.Reader, n int) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, int64(n)))
	if err != nil {
		return nil, err
	}
	if len(buf) < n {
		return nil, errors.Wrapf(ErrShortFile, "want %d bytes, have %d", n, len(buf))
	}
	return buf, nil
}

// ReadImages parses an IDX3 image file: magic, count, rows, columns, then
// count*rows*columns pixel bytes.
func ReadImages(r io.Reader) (count, width, height int, pixels []byte, err error) {
	var hdr [4]uint32
	if err = readHeader(r, hdr[:]); err != nil {
		return 0, 0, 0, nil, err
	}
	if hdr[0] != imagesMagic {
		return 0, 0, 0, nil, errors.Wrapf(ErrBadMagic, "images: 0x%08x", hdr[0])
	}
	count, height, width = int(hdr[1]), int(hdr[2]), int(hdr[3])
	size, err := bodySize(count, width, height)
	if err != nil {
		return 0, 0, 0, nil, errors.Wrap(err, "images")
	}
	pixels, err = readBody(r, size)
	return count, width, height, pixels, errors.Wrap(err, "images")
}

// ReadLabels parses an IDX1 label file: magic, count, then count bytes.
func ReadLabels(r io.Reader) ([]byte, error) {
	var hdr [2]uint32
	if err := readHeader(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != labelsMagic {
		return nil, errors.Wrapf(ErrBadMagic, "labels: 0x%08x", hdr[0])
	}
	labels, err := readBody(r, int(hdr[1]))
	return labels, errors.Wrap(err, "labels")
}
