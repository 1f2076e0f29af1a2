// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package autoencoder

import (
	"bufio"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/pgzip"
	"golang.org/x/crypto/blake2b"
)

// stateDict is the on-disk form of a trained model: a gzipped gob
// stream holding the architecture config, parameter values, and a
// blake2b digest of the parameter values.
type stateDict struct {
	Config Config
	Params [][]float64
	Digest [blake2b.Size256]byte
}

var ErrChecksum = errors.New("model parameter checksum mismatch")

func (m *Model) stateDict() stateDict {
	sd := stateDict{Config: m.Config}
	for _, p := range m.params() {
		sd.Params = append(sd.Params, append([]float64(nil), p.w.RawMatrix().Data...))
	}
	sd.Digest = digest(sd.Params)
	return sd
}

func digest(params [][]float64) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	buf := make([]byte, 8)
	for _, p := range params {
		binary.LittleEndian.PutUint64(buf, uint64(len(p)))
		h.Write(buf)
		for _, v := range p {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			h.Write(buf)
		}
	}
	var sum [blake2b.Size256]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Write encodes the model's parameters to w.
func (m *Model) Write(w io.Writer) error {
	zw := pgzip.NewWriter(w)
	err := gob.NewEncoder(zw).Encode(m.stateDict())
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// Save writes the model's parameters to a new file.
func (m *Model) Save(fnm string) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriter(f)
	err = m.Write(bufw)
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	err = bufw.Flush()
	if err != nil {
		return fmt.Errorf("write %s: %w", fnm, err)
	}
	return f.Close()
}

// Read decodes a model written by Write.
func Read(r io.Reader) (*Model, error) {
	zr, err := pgzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	var sd stateDict
	err = gob.NewDecoder(zr).Decode(&sd)
	if err != nil {
		return nil, err
	}
	if digest(sd.Params) != sd.Digest {
		return nil, ErrChecksum
	}
	switch sd.Config.Arch {
	case ArchSimple, ArchResnetLight:
	default:
		return nil, fmt.Errorf("unknown arch %q", sd.Config.Arch)
	}
	m := build(sd.Config)
	params := m.params()
	if len(params) != len(sd.Params) {
		return nil, fmt.Errorf("have %d parameter arrays, model needs %d", len(sd.Params), len(params))
	}
	for i, p := range params {
		data := p.w.RawMatrix().Data
		if len(data) != len(sd.Params[i]) {
			return nil, fmt.Errorf("parameter %d has %d values, model needs %d", i, len(sd.Params[i]), len(data))
		}
		copy(data, sd.Params[i])
	}
	return m, nil
}

// Load reads a model file written by Save.
func Load(fnm string) (*Model, error) {
	f, err := os.Open(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fnm, err)
	}
	return m, nil
}
