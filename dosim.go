// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package tpaesim

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// unknownKeyError reports a signal type or representation family
// that is not in the corresponding dispatch table.
type unknownKeyError struct {
	kind string
	key  string
}

func (e *unknownKeyError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.kind, e.key)
}

type dosim struct {
	debug       bool
	dataDir     string
	pattern     string
	npcs        int
	device      string
	configFile  string
	saveReps    bool
	resultsDB   string
	pprof       string
	signalType  string
	repFamily   string
	seed        int64
	outdir      string
	threads     int
	config      *simConfig
	signalAdder signalAdder
	repMaker    repMaker
}

func (cmd *dosim) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	err := cmd.parseArgs(prog, args, stderr)
	if err == flag.ErrHelp {
		return 0
	} else if errors.Is(err, errUsage) {
		return 2
	} else if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	err = cmd.run(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	return 0
}

var errUsage = errors.New("usage error")

// parseArgs accepts flags before, between, and after the positional
// arguments.
func (cmd *dosim) parseArgs(prog string, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [flags] signal_type rep_family seed outdir\n", prog)
		flags.PrintDefaults()
	}
	flags.BoolVar(&cmd.debug, "d", false, "debug mode: 10 samples, max empty fraction 0.2, 1 epoch")
	flags.StringVar(&cmd.dataDir, "data-dir", "./data", "`directory` containing sample files")
	flags.StringVar(&cmd.pattern, "pattern", "*.npy*", "sample file name `glob`")
	flags.IntVar(&cmd.npcs, "npcs", 20, "number of PCs used by association tests (0 = use representation directly)")
	flags.StringVar(&cmd.device, "torch-device", "cpu", "compute `device`: cpu or cpu:N for N worker threads")
	flags.StringVar(&cmd.configFile, "config", "", "YAML `file` overriding simulation parameters")
	flags.BoolVar(&cmd.saveReps, "save-reps", false, "write each representation to a .npy file in outdir")
	flags.StringVar(&cmd.resultsDB, "results-db", "", "also insert results rows into SQLite database `file`")
	flags.StringVar(&cmd.pprof, "pprof", "", "serve Go profile data at http://`[addr]:port`")

	var positional []string
	rest := args
	for {
		err := flags.Parse(rest)
		if err == flag.ErrHelp {
			return err
		} else if err != nil {
			return errUsage
		}
		rest = flags.Args()
		if len(rest) == 0 {
			break
		}
		positional = append(positional, rest[0])
		rest = rest[1:]
	}
	if len(positional) != 4 {
		flags.Usage()
		return errUsage
	}
	cmd.signalType, cmd.repFamily, cmd.outdir = positional[0], positional[1], positional[3]

	var ok bool
	if cmd.signalAdder, ok = signalAdders[cmd.signalType]; !ok {
		return &unknownKeyError{kind: "signal type", key: cmd.signalType}
	}
	if cmd.repMaker, ok = repMakers[cmd.repFamily]; !ok {
		return &unknownKeyError{kind: "representation family", key: cmd.repFamily}
	}
	seed, err := strconv.ParseInt(positional[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seed %q: %w", positional[2], err)
	}
	cmd.seed = seed
	if cmd.npcs < 0 {
		return fmt.Errorf("invalid -npcs %d", cmd.npcs)
	}
	cmd.threads, err = parseDevice(cmd.device)
	if err != nil {
		return err
	}
	cmd.config, err = loadSimConfig(cmd.configFile)
	if err != nil {
		return err
	}
	if cmd.debug {
		cmd.config.debug()
	}
	return nil
}

// parseDevice returns the number of worker threads for a -torch-device
// value.
func parseDevice(device string) (int, error) {
	if device == "cpu" {
		return runtime.GOMAXPROCS(0), nil
	}
	if n, ok := strings.CutPrefix(device, "cpu:"); ok {
		threads, err := strconv.Atoi(n)
		if err == nil && threads > 0 {
			return threads, nil
		}
	}
	return 0, fmt.Errorf("unsupported device %q (use cpu or cpu:N)", device)
}

func (cmd *dosim) outputPrefix() string {
	return filepath.Join(cmd.outdir, fmt.Sprintf("%s.%s.%d", cmd.signalType, cmd.repFamily, cmd.seed))
}

func (cmd *dosim) run(ctx context.Context) error {
	if cmd.pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(cmd.pprof, nil))
		}()
	}
	cfg := cmd.config
	log.WithFields(log.Fields{
		"signal": cmd.signalType,
		"family": cmd.repFamily,
		"seed":   cmd.seed,
		"outdir": cmd.outdir,
		"npcs":   cmd.npcs,
		"debug":  cmd.debug,
		"device": cmd.device,
	}).Info("starting replicate")
	err := os.MkdirAll(cmd.outdir, 0777)
	if err != nil {
		return err
	}

	var rdb *resultsDB
	if cmd.resultsDB != "" {
		rdb, err = openResultsDB(ctx, cmd.resultsDB, cmd.signalType, cmd.repFamily, cmd.seed)
		if err != nil {
			return err
		}
		defer rdb.Close()
		log.Infof("results database %s, run %s", cmd.resultsDB, rdb.RunID)
	}

	log.Info("reading samples")
	samples, err := readSamples(cmd.dataDir, cmd.pattern, cfg.StopAfter)
	if err != nil {
		return err
	}
	runtime.GC()

	log.Info("adding in case/ctrl signal")
	rnd := rand.New(rand.NewSource(uint64(cmd.seed)))
	samplemeta, masks, err := cmd.signalAdder(samples, rnd, cfg.Signal)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.signalType, err)
	}

	log.Info("choosing patches")
	patchmeta, err := choosePatches(samples, cfg.PatchSize, cfg.Stride, cfg.MaxFracEmpty, cmd.threads)
	if err != nil {
		return err
	}
	annotatePatches(patchmeta, masks, samples, cfg.PatchSize)
	P, err := newPatchCollection(patchmeta, samples, cfg.PatchSize, true)
	if err != nil {
		return err
	}
	log.Infof("%d patches generated", P.Len())

	log.Info("making representations")
	reps, err := cmd.repMaker(P, cmd.outputPrefix()+".model.pt", cfg.Epochs, makerOptions{
		Seed:     uint64(cmd.seed),
		Training: cfg.Training,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.repFamily, err)
	}
	if cmd.saveReps {
		for _, rep := range reps {
			err = writeNumpyFloat64(cmd.outputPrefix()+"."+rep.Name+".npy", rep.Z)
			if err != nil {
				return err
			}
		}
	}

	log.Info("making annotated tables")
	tables := make([]*annData, 0, len(reps))
	for _, rep := range reps {
		D, err := newAnnData(rep, patchmeta, samplemeta, tableConfig{NPCs: cmd.npcs})
		if err != nil {
			return err
		}
		tables = append(tables, D)
	}

	results := newResultsTable(metricNames())
	tsvFilename := cmd.outputPrefix() + ".tsv"
	for _, D := range tables {
		for _, noise := range cfg.Noises {
			D.Samplem["noisy_case"], err = noisyLabels(D.Samplem["case"], noise, rnd)
			if err != nil {
				return err
			}
			for _, style := range ccStyles {
				p, metrics := style.Test(D, "noisy_case", cfg.Assoc, rnd)
				row := resultRow{
					Signal:  cmd.signalType,
					Repname: D.Name,
					Style:   style.Name,
					Noise:   noise,
					P:       p,
					Metrics: metrics,
				}
				results.Append(row)
				fields := log.Fields{
					"repname": row.Repname,
					"style":   row.Style,
					"noise":   row.Noise,
					"P":       row.P,
				}
				for k, v := range metrics {
					fields[k] = v
				}
				log.WithFields(fields).Info("result")
				err = results.WriteTSV(tsvFilename)
				if err != nil {
					return err
				}
				if rdb != nil {
					err = rdb.Insert(ctx, results.Len()-1, row)
					if err != nil {
						return fmt.Errorf("%s: %w", cmd.resultsDB, err)
					}
				}
			}
		}
	}
	log.Infof("wrote %d rows to %s", results.Len(), tsvFilename)
	return nil
}
