// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
)

// A sample is one spatial imaging sample. Pixels are stored row-major
// as (y, x, channel).
type sample struct {
	ID       string
	Height   int
	Width    int
	Channels int
	Pixels   []float64
}

func (s *sample) offset(y, x int) int {
	return (y*s.Width + x) * s.Channels
}

// empty reports whether all channels of pixel (y, x) are zero.
func (s *sample) empty(y, x int) bool {
	for _, v := range s.Pixels[s.offset(y, x) : s.offset(y, x)+s.Channels] {
		if v != 0 {
			return false
		}
	}
	return true
}

// readSamples reads all files in dir matching pattern, in filename
// order. If stopAfter > 0, only the first stopAfter files are read.
func readSamples(dir, pattern string, stopAfter int) ([]*sample, error) {
	infiles, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	if len(infiles) == 0 {
		return nil, fmt.Errorf("no input files found in %s matching %q", dir, pattern)
	}
	sort.Strings(infiles)
	if stopAfter > 0 && len(infiles) > stopAfter {
		infiles = infiles[:stopAfter]
	}
	var samples []*sample
	for i, infile := range infiles {
		log.Infof("%04d: reading %s", i, infile)
		s, err := readSample(infile)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", infile, err)
		}
		if len(samples) > 0 && s.Channels != samples[0].Channels {
			return nil, fmt.Errorf("%s: %d channels, but %s has %d", infile, s.Channels, samples[0].ID, samples[0].Channels)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func readSample(fnm string) (*sample, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	npy, err := gonpy.NewReader(f)
	if err != nil {
		return nil, err
	}
	if npy.ColumnMajor {
		return nil, fmt.Errorf("column-major (fortran order) arrays are not supported")
	}
	s := &sample{ID: sampleIDFromFilename(fnm)}
	switch len(npy.Shape) {
	case 2:
		s.Height, s.Width, s.Channels = npy.Shape[0], npy.Shape[1], 1
	case 3:
		s.Height, s.Width, s.Channels = npy.Shape[0], npy.Shape[1], npy.Shape[2]
	default:
		return nil, fmt.Errorf("cannot use array with shape %v (want height, width[, channels])", npy.Shape)
	}
	s.Pixels, err = npyFloat64(npy)
	if err != nil {
		return nil, err
	}
	if len(s.Pixels) != s.Height*s.Width*s.Channels {
		return nil, fmt.Errorf("array has %d values, shape %v", len(s.Pixels), npy.Shape)
	}
	return s, nil
}

func npyFloat64(npy *gonpy.NpyReader) ([]float64, error) {
	switch npy.Dtype {
	case "f8":
		return npy.GetFloat64()
	case "f4":
		data, err := npy.GetFloat32()
		return widen(data, err)
	case "u1":
		data, err := npy.GetUint8()
		return widen(data, err)
	case "u2":
		data, err := npy.GetUint16()
		return widen(data, err)
	case "i2":
		data, err := npy.GetInt16()
		return widen(data, err)
	case "i4":
		data, err := npy.GetInt32()
		return widen(data, err)
	default:
		return nil, fmt.Errorf("unsupported dtype %q", npy.Dtype)
	}
}

func widen[T float32 | uint8 | uint16 | int16 | int32](in []T, err error) ([]float64, error) {
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out, nil
}

// sampleIDFromFilename returns the base name without .npy / .npy.gz.
func sampleIDFromFilename(fnm string) string {
	id := filepath.Base(fnm)
	id = strings.TrimSuffix(id, ".gz")
	id = strings.TrimSuffix(id, ".npy")
	return id
}

func writeSample(fnm string, s *sample) error {
	output, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer output.Close()
	var w io.Writer = output
	var gzw *pgzip.Writer
	if strings.HasSuffix(fnm, ".gz") {
		gzw = pgzip.NewWriter(output)
		defer gzw.Close()
		w = gzw
	}
	bufw := bufio.NewWriter(w)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		return err
	}
	npw.Shape = []int{s.Height, s.Width, s.Channels}
	err = npw.WriteFloat64(s.Pixels)
	if err != nil {
		return err
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	if gzw != nil {
		err = gzw.Close()
		if err != nil {
			return err
		}
	}
	return output.Close()
}

// zopen returns a reader for the given file, transparently
// decompressing the input if fnm ends with ".gz".
func zopen(fnm string) (io.ReadCloser, error) {
	f, err := os.Open(fnm)
	if err != nil || !strings.HasSuffix(fnm, ".gz") {
		return f, err
	}
	rdr, err := pgzip.NewReader(bufio.NewReaderSize(f, 4*1024*1024))
	if err != nil {
		f.Close()
		return nil, err
	}
	return gzipr{rdr, f}, nil
}

// gzipr wraps a ReadCloser and a Closer, presenting a single Close()
// method that closes both wrapped objects.
type gzipr struct {
	io.ReadCloser
	io.Closer
}

func (gr gzipr) Close() error {
	e1 := gr.ReadCloser.Close()
	e2 := gr.Closer.Close()
	if e1 != nil {
		return e1
	}
	return e2
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
