// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// makeSamples writes synthetic samples: an elliptical blob of tissue
// with gamma-distributed channel intensities on an empty background.
type makeSamples struct{}

func (cmd *makeSamples) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	outdir := flags.String("o", "./data", "output `directory`")
	n := flags.Int("n", 10, "number of samples")
	size := flags.Int("size", 100, "image height and width")
	channels := flags.Int("channels", 3, "number of channels")
	seed := flags.Uint64("seed", 0, "random seed")
	gz := flags.Bool("gzip", false, "write .npy.gz files")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() > 0 {
		err = fmt.Errorf("errant command line arguments after parsed flags: %v", flags.Args())
		return 2
	}
	if *n < 1 || *size < 1 || *channels < 1 {
		err = fmt.Errorf("-n, -size, and -channels must be positive")
		return 2
	}
	err = os.MkdirAll(*outdir, 0777)
	if err != nil {
		return 1
	}
	rnd := rand.New(rand.NewSource(*seed))
	for i := 0; i < *n; i++ {
		s := syntheticSample(fmt.Sprintf("sample%03d", i), *size, *size, *channels, rnd)
		fnm := filepath.Join(*outdir, s.ID+".npy")
		if *gz {
			fnm += ".gz"
		}
		log.Infof("writing %s", fnm)
		err = writeSample(fnm, s)
		if err != nil {
			return 1
		}
	}
	return 0
}

// syntheticSample returns a sample whose tissue is a random ellipse
// covering roughly half of the image. Tissue pixels are never empty.
func syntheticSample(id string, height, width, channels int, rnd *rand.Rand) *sample {
	s := &sample{
		ID:       id,
		Height:   height,
		Width:    width,
		Channels: channels,
		Pixels:   make([]float64, height*width*channels),
	}
	cy := float64(height) * (0.4 + 0.2*rnd.Float64())
	cx := float64(width) * (0.4 + 0.2*rnd.Float64())
	ry := float64(height) * (0.35 + 0.1*rnd.Float64())
	rx := float64(width) * (0.35 + 0.1*rnd.Float64())
	intensity := distuv.Gamma{Alpha: 2, Beta: 1, Src: rnd}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dy, dx := (float64(y)-cy)/ry, (float64(x)-cx)/rx
			if dy*dy+dx*dx > 1 {
				continue
			}
			px := s.Pixels[s.offset(y, x) : s.offset(y, x)+channels]
			for ch := range px {
				px[ch] = math.Max(intensity.Rand(), 1e-3)
			}
		}
	}
	return s
}
