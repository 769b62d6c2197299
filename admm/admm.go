// Package admm trains a LeNet classifier with consensus SGD across a group
// of ranks, either as goroutines in one process or as processes talking
// gRPC.
package admm

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/FlavioCFOliveira/admmnet/internal/comm"
	"github.com/FlavioCFOliveira/admmnet/internal/coord"
	"github.com/FlavioCFOliveira/admmnet/internal/dataset"
	"github.com/FlavioCFOliveira/admmnet/internal/device"
	"github.com/FlavioCFOliveira/admmnet/internal/engine"
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/opt"
	"github.com/pkg/errors"
)

// Re-export common types for easier access
type (
	Options      = coord.Options
	Result       = coord.Result
	Arch         = net.Arch
	ParamSet     = net.ParamSet
	Communicator = comm.Communicator
	Dataset      = dataset.Set
	Schedule     = coord.Schedule
	Aggregation  = coord.Aggregation
	InvLR        = opt.InvLR
)

const (
	ScheduleUniform     = coord.ScheduleUniform
	ScheduleRank        = coord.ScheduleRank
	AggregateSequential = coord.AggregateSequential
	AggregateSum        = coord.AggregateSum

	ConvAuto   = engine.AlgoAuto
	ConvGEMM   = engine.ForceGEMM
	ConvDirect = engine.ForceDirect
)

// DefaultArch is the classic LeNet layer set.
var DefaultArch = net.DefaultArch

// DefaultOptions returns the standard training options.
func DefaultOptions() Options {
	return coord.DefaultOptions()
}

// LoadDataset reads an IDX image file and its label file.
func LoadDataset(images, labels string) (*Dataset, error) {
	return dataset.Load(images, labels)
}

// NewLocalGroup creates size in-process endpoints.
func NewLocalGroup(size int) []Communicator {
	return comm.NewLocalGroup(size)
}

// ListenGRPC starts this rank's endpoint; peers lists every rank's address.
func ListenGRPC(rank int, peers []string, logger *log.Logger) (Communicator, error) {
	return comm.ListenGRPC(rank, peers, logger)
}

// RankLogger returns a logger that tags every line with the rank.
func RankLogger(base *log.Logger, rank int) *log.Logger {
	if base == nil {
		base = log.Default()
	}
	return log.New(base.Writer(), fmt.Sprintf("[rank %d] ", rank), log.LstdFlags|log.Lmsgprefix)
}

// RunRank trains as one rank of the group behind c. train and test are only
// needed on rank 0.
func RunRank(ctx context.Context, c Communicator, deviceIndex int, train, test *Dataset, opts Options, logger *log.Logger) (*Result, error) {
	dev, err := device.Open(deviceIndex)
	if err != nil {
		return nil, err
	}
	co, err := coord.New(c, dev, train, test, opts, logger)
	if err != nil {
		return nil, err
	}
	defer co.Close()
	return co.Run(ctx)
}

// TrainLocal runs ranks goroutines over an in-process group and returns the
// root's result. The first failing rank cancels the others.
func TrainLocal(ctx context.Context, ranks, deviceIndex int, train, test *Dataset, opts Options, logger *log.Logger) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group := NewLocalGroup(ranks)
	results := make([]*Result, ranks)
	errs := make([]error, ranks)

	var wg sync.WaitGroup
	for r := 0; r < ranks; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			defer group[r].Close()
			results[r], errs[r] = RunRank(ctx, group[r], deviceIndex, train, test, opts, RankLogger(logger, r))
			if errs[r] != nil {
				cancel()
			}
		}(r)
	}
	wg.Wait()

	// Report the rank that failed first rather than the ones it cancelled.
	for r, err := range errs {
		if err != nil && errors.Cause(err) != context.Canceled {
			return nil, errors.Wrapf(err, "rank %d", r)
		}
	}
	for r, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "rank %d", r)
		}
	}
	return results[coord.Root], nil
}
