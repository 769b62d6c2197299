// Command lenet trains a LeNet digit classifier with consensus SGD.
//
// With -peers, every process is one rank:
//
//	lenet -peers host0:7000,host1:7000,host2:7000 -rank 1
//
// Without it, -local ranks run as goroutines in this process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/FlavioCFOliveira/admmnet/admm"
	"github.com/FlavioCFOliveira/admmnet/internal/config"
	"github.com/pkg/errors"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	cfg, err := config.Parse(os.Args[0], os.Args[1:], os.Stderr)
	if err == flag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatalf("%+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	opts := cfg.Options()
	rootRank := !cfg.Distributed() || cfg.Rank == 0

	var train, test *admm.Dataset
	if rootRank {
		var err error
		log.Printf("Reading input data")
		if train, err = admm.LoadDataset(cfg.TrainImages, cfg.TrainLabels); err != nil {
			return errors.Wrap(err, "training set")
		}
		if cfg.HasTestSet() {
			if test, err = admm.LoadDataset(cfg.TestImages, cfg.TestLabels); err != nil {
				return errors.Wrap(err, "test set")
			}
		}
		log.Printf("Done. Training dataset size: %d, Test dataset size: %d", train.Count, count(test))
	}

	if !cfg.Distributed() {
		_, err := admm.TrainLocal(ctx, cfg.Local, cfg.Device, train, test, opts, log.Default())
		return err
	}

	logger := admm.RankLogger(log.Default(), cfg.Rank)
	c, err := admm.ListenGRPC(cfg.Rank, cfg.Peers, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = admm.RunRank(ctx, c, cfg.Device, train, test, opts, logger)
	return err
}

func count(s *admm.Dataset) int {
	if s == nil {
		return 0
	}
	return s.Count
}
