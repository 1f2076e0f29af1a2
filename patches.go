// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

type patchMeta struct {
	Sample     int // index into samples
	SampleID   string
	X          int
	Y          int
	FracEmpty  float64
	FracRegion float64
	InRegion   bool
}

// choosePatches returns the size x size patches at the given stride
// in each sample whose fraction of empty pixels is at most
// maxFracEmpty. Patches are ordered by sample, then row, then column.
func choosePatches(samples []*sample, size, stride int, maxFracEmpty float64, threads int) ([]patchMeta, error) {
	if size < 1 || stride < 1 {
		return nil, fmt.Errorf("invalid patch size %d / stride %d", size, stride)
	}
	persample := make([][]patchMeta, len(samples))
	thr := throttle{Max: threads}
	for i, s := range samples {
		i, s := i, s
		thr.Go(func() error {
			persample[i] = samplePatches(i, s, size, stride, maxFracEmpty)
			log.Debugf("%s: %d patches", s.ID, len(persample[i]))
			return nil
		})
	}
	if err := thr.Wait(); err != nil {
		return nil, err
	}
	var patches []patchMeta
	for _, p := range persample {
		patches = append(patches, p...)
	}
	if len(patches) == 0 {
		return nil, fmt.Errorf("no patches with empty fraction <= %g", maxFracEmpty)
	}
	return patches, nil
}

func samplePatches(idx int, s *sample, size, stride int, maxFracEmpty float64) []patchMeta {
	// integral[(y)*(w+1)+x] is the number of empty pixels above
	// and left of (y, x)
	w := s.Width + 1
	integral := make([]int, (s.Height+1)*w)
	for y := 0; y < s.Height; y++ {
		for x := 0; x < s.Width; x++ {
			e := 0
			if s.empty(y, x) {
				e = 1
			}
			integral[(y+1)*w+x+1] = e + integral[y*w+x+1] + integral[(y+1)*w+x] - integral[y*w+x]
		}
	}
	var patches []patchMeta
	area := float64(size * size)
	for y := 0; y+size <= s.Height; y += stride {
		for x := 0; x+size <= s.Width; x += stride {
			empty := integral[(y+size)*w+x+size] - integral[y*w+x+size] - integral[(y+size)*w+x] + integral[y*w+x]
			frac := float64(empty) / area
			if frac > maxFracEmpty {
				continue
			}
			patches = append(patches, patchMeta{
				Sample:    idx,
				SampleID:  s.ID,
				X:         x,
				Y:         y,
				FracEmpty: frac,
			})
		}
	}
	return patches
}

// patchCollection holds the pixels of every patch, (y, x, channel)
// row-major per patch, in the order of Meta.
type patchCollection struct {
	Meta     []patchMeta
	Size     int
	Channels int
	pixels   []float64
}

// accessOptions control how patches are read. Augment requires Rand.
type accessOptions struct {
	Augment bool
	Rand    *rand.Rand
}

type patchRecord struct {
	Pixels []float64
	Meta   patchMeta
}

func newPatchCollection(meta []patchMeta, samples []*sample, size int, standardize bool) (*patchCollection, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples")
	}
	P := &patchCollection{
		Meta:     meta,
		Size:     size,
		Channels: samples[0].Channels,
	}
	dim := P.PatchDim()
	P.pixels = make([]float64, len(meta)*dim)
	for i, pm := range meta {
		s := samples[pm.Sample]
		if s.Channels != P.Channels {
			return nil, fmt.Errorf("%s: %d channels, expected %d", s.ID, s.Channels, P.Channels)
		}
		dst := P.pixels[i*dim : (i+1)*dim]
		for dy := 0; dy < size; dy++ {
			off := s.offset(pm.Y+dy, pm.X)
			copy(dst[dy*size*P.Channels:(dy+1)*size*P.Channels], s.Pixels[off:off+size*P.Channels])
		}
	}
	if standardize {
		P.standardize()
	}
	return P, nil
}

// standardize rescales each channel to mean 0, stddev 1 across all
// patch pixels.
func (P *patchCollection) standardize() {
	n := len(P.pixels) / P.Channels
	vals := make([]float64, n)
	for ch := 0; ch < P.Channels; ch++ {
		for i := range vals {
			vals[i] = P.pixels[i*P.Channels+ch]
		}
		mean, std := stat.MeanStdDev(vals, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		for i := range vals {
			P.pixels[i*P.Channels+ch] = (vals[i] - mean) / std
		}
	}
}

func (P *patchCollection) Len() int { return len(P.Meta) }

// PatchDim is the number of values in one patch.
func (P *patchCollection) PatchDim() int { return P.Size * P.Size * P.Channels }

// PatchPixels is the number of spatial positions in one patch.
func (P *patchCollection) PatchPixels() int { return P.Size * P.Size }

// Numeric returns the values of patch i. Without augmentation the
// returned slice shares storage with the collection and must not be
// modified.
func (P *patchCollection) Numeric(i int, opts accessOptions) []float64 {
	dim := P.PatchDim()
	src := P.pixels[i*dim : (i+1)*dim]
	if !opts.Augment {
		return src
	}
	dst := make([]float64, dim)
	P.augment(src, dst, opts.Rand)
	return dst
}

// Record returns patch i with its metadata.
func (P *patchCollection) Record(i int, opts accessOptions) patchRecord {
	return patchRecord{Pixels: P.Numeric(i, opts), Meta: P.Meta[i]}
}

// augment writes a random flip/rotation (one of the 8 symmetries of
// the square) of src to dst.
func (P *patchCollection) augment(src, dst []float64, rnd *rand.Rand) {
	if rnd == nil {
		panic("bug: augmentation requested without a random source")
	}
	op := rnd.Intn(8)
	flipY, flipX, transpose := op&1 != 0, op&2 != 0, op&4 != 0
	n, ch := P.Size, P.Channels
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			sy, sx := y, x
			if transpose {
				sy, sx = sx, sy
			}
			if flipY {
				sy = n - 1 - sy
			}
			if flipX {
				sx = n - 1 - sx
			}
			copy(dst[(y*n+x)*ch:(y*n+x+1)*ch], src[(sy*n+sx)*ch:(sy*n+sx+1)*ch])
		}
	}
}

// patchDataset presents a subset of a patchCollection as an
// autoencoder.Dataset.
type patchDataset struct {
	P   *patchCollection
	idx []int
}

func (ds patchDataset) Len() int { return len(ds.idx) }
func (ds patchDataset) Dim() int { return ds.P.PatchDim() }
func (ds patchDataset) Example(i int, dst []float64, rnd *rand.Rand) {
	copy(dst, ds.P.Record(ds.idx[i], accessOptions{Augment: rnd != nil, Rand: rnd}).Pixels)
}

func allPatches(P *patchCollection) patchDataset {
	idx := make([]int, P.Len())
	for i := range idx {
		idx[i] = i
	}
	return patchDataset{P: P, idx: idx}
}

// trainTestSplit assigns a random trainFrac of the patches to the
// training set and the rest to the validation set.
func trainTestSplit(P *patchCollection, trainFrac float64, rnd *rand.Rand) (train, val patchDataset) {
	perm := rnd.Perm(P.Len())
	ntrain := int(trainFrac * float64(len(perm)))
	if ntrain < 1 {
		ntrain = 1
	}
	if ntrain > len(perm) {
		ntrain = len(perm)
	}
	return patchDataset{P: P, idx: perm[:ntrain]}, patchDataset{P: P, idx: perm[ntrain:]}
}
