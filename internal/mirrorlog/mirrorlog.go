// Package mirrorlog implements the relay's mirror log: an append-only copy
// of the forwarded stream, optionally rotated across a bounded set of files.
package mirrorlog

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Writer appends to the active log file and rotates when it is full.
//
// With MaxBytes > 0 files are named prefix+index, index cycling through
// 0..MaxFiles-1 (growing without bound when MaxFiles is 0); every file is
// recreated empty when it becomes active. With MaxBytes == 0 a single file
// named prefix is truncated at start and grows without limit.
type Writer struct {
	prefix   string
	maxBytes int64
	maxFiles int64

	f         *os.File
	name      string
	bytes     int64 // written to the active file
	count     int64 // files opened so far
	rotations int

	// OnRotate, when set, is called after each rotation with the new file name.
	OnRotate func(name string)
}

// Open creates the first log file. maxBytes and maxFiles of zero mean
// unlimited.
func Open(prefix string, maxBytes, maxFiles int64) (*Writer, error) {
	if prefix == "" {
		return nil, fmt.Errorf("mirror log prefix is required")
	}
	if maxBytes < 0 || maxFiles < 0 {
		return nil, fmt.Errorf("mirror log limits must not be negative")
	}

	w := &Writer{prefix: prefix, maxBytes: maxBytes, maxFiles: maxFiles}
	if err := w.next(); err != nil {
		return nil, err
	}
	return w, nil
}

// Name returns the path of the active file.
func (w *Writer) Name() string {
	return w.name
}

// Rotations returns how many files were opened after the first one.
func (w *Writer) Rotations() int {
	return w.rotations
}

// Write appends p, splitting it across files at the size limit. It returns
// the number of bytes actually stored; n < len(p) always comes with an error.
func (w *Writer) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if w.f == nil {
			return total, fmt.Errorf("mirror log %s: no active file", w.prefix)
		}

		chunk := p[total:]
		if w.maxBytes > 0 && w.bytes+int64(len(chunk)) > w.maxBytes {
			chunk = chunk[:w.maxBytes-w.bytes]
		}

		n, err := w.f.Write(chunk)
		total += n
		w.bytes += int64(n)
		if err != nil {
			return total, fmt.Errorf("write %s: %w", w.name, err)
		}

		if w.maxBytes > 0 && w.bytes >= w.maxBytes {
			if err := w.next(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// Close closes the active file.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *Writer) next() error {
	if w.f != nil {
		if err := w.f.Close(); err != nil {
			log.Warn().Err(err).Str("file", w.name).Msg("closing mirror log file")
		}
		w.f = nil
	}

	name := w.prefix
	if w.maxBytes > 0 {
		index := w.count
		if w.maxFiles > 0 {
			index %= w.maxFiles
		}
		name = w.prefix + strconv.FormatInt(index, 10)
	}

	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	w.f = f
	w.name = name
	w.bytes = 0
	w.count++
	if w.count > 1 {
		w.rotations++
		log.Debug().Str("file", name).Int("rotations", w.rotations).Msg("mirror log rotated")
		if w.OnRotate != nil {
			w.OnRotate(name)
		}
	}
	return nil
}
