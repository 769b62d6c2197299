// Package config parses the command line of the trainer.
package config

import (
	"flag"
	"io"
	"strings"

	"github.com/FlavioCFOliveira/admmnet/internal/coord"
	"github.com/FlavioCFOliveira/admmnet/internal/engine"
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/opt"
	"github.com/pkg/errors"
)

// Config holds every command-line setting.
type Config struct {
	Device     int
	Iterations int
	RandomSeed int64
	Classify   int
	BatchSize  int
	Pretrained bool
	SaveData   bool
	WeightsDir string

	TrainImages string
	TrainLabels string
	TestImages  string
	TestLabels  string

	LearningRate float64
	LRGamma      float64
	LRPower      float64
	Rho          float64

	// Rank and Peers select multi-process mode; Local runs that many
	// ranks as goroutines when Peers is empty.
	Rank  int
	Peers []string
	Local int

	Schedule  coord.Schedule
	Aggregate coord.Aggregation
	ConvAlgo  engine.AlgoMode
	LogEvery  int
	LogCSV    string
}

// Parse reads args (without the program name). Help output and parse
// errors are written to output.
func Parse(name string, args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	cfg := &Config{}
	fs.IntVar(&cfg.Device, "gpu", 0, "Index of the compute device to use")
	fs.IntVar(&cfg.Iterations, "iterations", 1000, "Number of iterations for training")
	fs.Int64Var(&cfg.RandomSeed, "random-seed", -1, "Override random seed (negative picks one from the clock)")
	fs.IntVar(&cfg.Classify, "classify", -1, "Number of test images to classify (negative uses the entire test set, 0 skips)")
	fs.IntVar(&cfg.BatchSize, "batch-size", 64, "Batch size for training")
	fs.BoolVar(&cfg.Pretrained, "pretrained", false, "Load conv1, conv2, ip1 and ip2 weights from -weights-dir")
	fs.BoolVar(&cfg.SaveData, "save-data", false, "Save the global weights to -weights-dir after training")
	fs.StringVar(&cfg.WeightsDir, "weights-dir", ".", "Directory for weight files")

	fs.StringVar(&cfg.TrainImages, "train-images", "train-images-idx3-ubyte", "Training images filename")
	fs.StringVar(&cfg.TrainLabels, "train-labels", "train-labels-idx1-ubyte", "Training labels filename")
	fs.StringVar(&cfg.TestImages, "test-images", "t10k-images-idx3-ubyte", "Test images filename")
	fs.StringVar(&cfg.TestLabels, "test-labels", "t10k-labels-idx1-ubyte", "Test labels filename")

	fs.Float64Var(&cfg.LearningRate, "learning-rate", 0.01, "Base learning rate")
	fs.Float64Var(&cfg.LRGamma, "lr-gamma", 0.0001, "Learning rate policy gamma")
	fs.Float64Var(&cfg.LRPower, "lr-power", 0.75, "Learning rate policy power")
	fs.Float64Var(&cfg.Rho, "rho", opt.DefaultRho, "Consensus penalty weight")

	fs.IntVar(&cfg.Rank, "rank", 0, "Rank of this process when -peers is set")
	peers := fs.String("peers", "", "Comma-separated host:port of every rank, in rank order")
	fs.IntVar(&cfg.Local, "local", 2, "Number of in-process ranks when -peers is empty")

	schedule := fs.String("schedule", "uniform", "Dispatch schedule: uniform or rank")
	aggregate := fs.String("aggregate", "sequential", "Residual aggregation: sequential or sum")
	convAlgo := fs.String("conv-algo", "auto", "Convolution algorithm: auto, gemm or direct")
	fs.IntVar(&cfg.LogEvery, "log-every", 100, "Log progress every N iterations (0 disables)")
	fs.StringVar(&cfg.LogCSV, "log-csv", "", "Write per-iteration progress to this CSV file, one per rank")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, errors.Errorf("unexpected arguments: %v", fs.Args())
	}

	if *peers != "" {
		for _, p := range strings.Split(*peers, ",") {
			cfg.Peers = append(cfg.Peers, strings.TrimSpace(p))
		}
	}
	var err error
	if cfg.Schedule, err = coord.ParseSchedule(*schedule); err != nil {
		return nil, err
	}
	if cfg.Aggregate, err = coord.ParseAggregation(*aggregate); err != nil {
		return nil, err
	}
	if cfg.ConvAlgo, err = engine.ParseAlgoMode(*convAlgo); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges that the flag package cannot.
func (c *Config) Validate() error {
	switch {
	case c.Device < 0:
		return errors.Errorf("-gpu %d: must not be negative", c.Device)
	case c.Iterations < 0:
		return errors.Errorf("-iterations %d: must not be negative", c.Iterations)
	case c.BatchSize <= 0:
		return errors.Errorf("-batch-size %d: must be positive", c.BatchSize)
	case c.LearningRate < 0:
		return errors.Errorf("-learning-rate %g: must not be negative", c.LearningRate)
	case c.TrainImages == "" || c.TrainLabels == "":
		return errors.New("-train-images and -train-labels are required")
	}
	if c.Distributed() {
		if len(c.Peers) < 2 {
			return errors.Errorf("-peers lists %d ranks, need at least 2", len(c.Peers))
		}
		for i, p := range c.Peers {
			if p == "" {
				return errors.Errorf("-peers entry %d is empty", i)
			}
		}
		if c.Rank < 0 || c.Rank >= len(c.Peers) {
			return errors.Errorf("-rank %d outside [0, %d)", c.Rank, len(c.Peers))
		}
		return nil
	}
	if c.Local < 2 {
		return errors.Errorf("-local %d: need at least 2 ranks", c.Local)
	}
	return nil
}

// Distributed reports whether ranks run as separate processes.
func (c *Config) Distributed() bool { return len(c.Peers) > 0 }

// HasTestSet reports whether classification should run.
func (c *Config) HasTestSet() bool {
	return c.Classify != 0 && c.TestImages != "" && c.TestLabels != ""
}

// Options converts the configuration into training options.
func (c *Config) Options() coord.Options {
	o := coord.DefaultOptions()
	o.Arch = net.DefaultArch
	o.Iterations = c.Iterations
	o.BatchSize = c.BatchSize
	o.Seed = c.RandomSeed
	o.LR = opt.InvLR{Base: float32(c.LearningRate), Gamma: float32(c.LRGamma), Power: float32(c.LRPower)}
	o.Rho = float32(c.Rho)
	o.Schedule = c.Schedule
	o.Aggregation = c.Aggregate
	o.ConvAlgo = c.ConvAlgo
	o.Pretrained = c.Pretrained
	o.SaveData = c.SaveData
	o.WeightsDir = c.WeightsDir
	o.Classify = c.Classify
	o.LogEvery = c.LogEvery
	o.LogCSV = c.LogCSV
	return o
}
