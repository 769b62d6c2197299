package layer

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrShortFile is returned when a parameter file holds fewer values than the layer owns.
var ErrShortFile = errors.New("parameter file too short")

// WeightsFile and BiasFile return the two file names used for a prefix.
func WeightsFile(prefix string) string { return prefix + ".bin" }
func BiasFile(prefix string) string    { return prefix + ".bias.bin" }

// Save writes the layer's weights to <prefix>.bin and its bias to
// <prefix>.bias.bin as raw little-endian float32 values, no header.
func Save(l Parametric, prefix string) error {
	weights, bias := l.Params()
	if err := writeFloats(WeightsFile(prefix), weights); err != nil {
		return err
	}
	return writeFloats(BiasFile(prefix), bias)
}

// Load reads the files written by Save into the layer's storage.
// The element counts come from the layer itself.
func Load(l Parametric, prefix string) error {
	weights, bias := l.Params()
	if err := readFloats(WeightsFile(prefix), weights); err != nil {
		return err
	}
	return readFloats(BiasFile(prefix), bias)
}

func writeFloats(filename string, data []float32) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := binary.Write(w, binary.LittleEndian, data); err != nil {
		return errors.Wrapf(err, "write %s", filename)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", filename)
	}
	return errors.Wrapf(file.Close(), "close %s", filename)
}

func readFloats(filename string, dst []float32) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()

	err = binary.Read(bufio.NewReader(file), binary.LittleEndian, dst)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrShortFile, "%s: want %d values", filename, len(dst))
	}
	return errors.Wrapf(err, "read %s", filename)
}
