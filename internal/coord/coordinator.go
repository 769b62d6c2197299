// Package coord runs consensus training over a star of ranks rooted at
// rank 0. The root owns the data set and the global parameters; every
// other rank trains a local copy and ships its residual back.
package coord

import (
	"context"
	"log"
	"math"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/FlavioCFOliveira/admmnet/internal/comm"
	"github.com/FlavioCFOliveira/admmnet/internal/dataset"
	"github.com/FlavioCFOliveira/admmnet/internal/device"
	"github.com/FlavioCFOliveira/admmnet/internal/engine"
	"github.com/FlavioCFOliveira/admmnet/internal/net"
	"github.com/FlavioCFOliveira/admmnet/internal/opt"
	"github.com/pkg/errors"
)

// Root is the rank that owns the global parameters.
const Root = 0

// Options configure a training run. Every rank must use the same values.
type Options struct {
	Arch        net.Arch
	Iterations  int
	BatchSize   int
	Seed        int64 // negative picks a time-based seed
	LR          opt.Scheduler
	Rho         float32
	Schedule    Schedule
	Aggregation Aggregation
	ConvAlgo    engine.AlgoMode

	Pretrained bool
	SaveData   bool
	WeightsDir string
	// Classify limits evaluation to the first Classify test images;
	// negative means the whole set, zero skips evaluation.
	Classify int
	LogEvery int
	// LogCSV, when set, names a per-iteration CSV log; each rank writes
	// its own copy, see RankFile.
	LogCSV string
}

// DefaultOptions mirrors the command-line defaults.
func DefaultOptions() Options {
	return Options{
		Arch:       net.DefaultArch,
		Iterations: 1000,
		BatchSize:  64,
		Seed:       -1,
		LR:         opt.InvLR{Base: 0.01, Gamma: 0.0001, Power: 0.75},
		Rho:        opt.DefaultRho,
		WeightsDir: ".",
		Classify:   -1,
		LogEvery:   100,
	}
}

// Result summarizes a finished run.
type Result struct {
	Iterations    int
	MeanIteration time.Duration

	// Root only.
	Global    net.ParamSet
	Evaluated int
	Errors    int
}

// ErrorRate is Errors/Evaluated, or NaN when nothing was evaluated.
func (r *Result) ErrorRate() float64 {
	if r.Evaluated == 0 {
		return math.NaN()
	}
	return float64(r.Errors) / float64(r.Evaluated)
}

// Coordinator is one rank's view of a training run.
type Coordinator struct {
	comm   comm.Communicator
	dev    *device.Device
	opts   Options
	logger *log.Logger

	train, test *dataset.Set

	width, height         int
	trainSize, trainBytes int

	model    *net.LeNet
	local    net.ParamSet
	global   net.ParamSet
	residual net.ParamSet
	staging  net.ParamSet
	sum      net.ParamSet

	ws     *engine.Workspace
	ctx    *engine.Context
	rng    *rand.Rand
	rule   opt.Consensus
	images []float32
	labels []float32

	timer     *Timer
	callbacks []Callback
}

// New validates the run. train and test are only read on the root and
// may be nil elsewhere.
func New(c comm.Communicator, dev *device.Device, train, test *dataset.Set, opts Options, logger *log.Logger) (*Coordinator, error) {
	if c.Size() < 2 {
		return nil, errors.Errorf("consensus training needs at least 2 ranks, have %d", c.Size())
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("batch size %d", opts.BatchSize)
	}
	if opts.Iterations < 0 {
		return nil, errors.Errorf("iterations %d", opts.Iterations)
	}
	if opts.LR == nil {
		return nil, errors.New("no learning rate schedule")
	}
	if c.Rank() == Root {
		if train == nil {
			return nil, errors.New("root has no training set")
		}
		if train.NumBatches(opts.BatchSize) == 0 {
			return nil, errors.Errorf("training set of %d images is smaller than one batch of %d", train.Count, opts.BatchSize)
		}
	}
	if logger == nil {
		logger = log.Default()
	}

	seed := opts.Seed
	if seed < 0 {
		seed = time.Now().UnixNano()
	}

	co := &Coordinator{
		comm:   c,
		dev:    dev,
		opts:   opts,
		logger: logger,
		train:  train,
		test:   test,
		rng:    rand.New(rand.NewSource(seed)),
		rule:   opt.Consensus{Rho: opts.Rho, Optimizer: opt.SGD{}},
		timer:  &Timer{Logger: logger},
	}
	co.callbacks = []Callback{co.timer, &ProgressLogger{Every: opts.LogEvery, Logger: logger}}
	if opts.LogCSV != "" {
		co.AddCallback(&CSVLogger{Filename: RankFile(opts.LogCSV, c.Rank()), Logger: logger})
	}
	return co, nil
}

// AddCallback registers cb after the built-in progress and timing callbacks.
func (c *Coordinator) AddCallback(cb Callback) {
	c.callbacks = append(c.callbacks, cb)
}

func (c *Coordinator) IsRoot() bool { return c.comm.Rank() == Root }

// Global returns the global parameter set. Only meaningful after Setup.
func (c *Coordinator) Global() net.ParamSet { return c.global }


// Setup exchanges the data set metadata, builds the layer set, initializes
// parameters and allocates the training context.
func (c *Coordinator) Setup(ctx context.Context) error {
	if err := c.exchangeMeta(ctx); err != nil {
		return errors.Wrap(err, "metadata exchange")
	}

	model, err := net.New(c.opts.Arch, 1, c.width, c.height)
	if err != nil {
		return errors.Wrap(err, "build network")
	}
	c.model = model
	c.initParams()

	c.local = model.Params()
	c.global = c.local.Clone()
	c.residual = net.NewParamSetLike(c.local)
	c.staging = net.NewParamSetLike(c.local)
	if c.opts.Aggregation == AggregateSum {
		c.sum = net.NewParamSetLike(c.local)
	}

	c.logger.Printf("Using %s device %d: %s [%s]", c.dev.Type(), c.dev.Index(), c.dev.Name(), strings.Join(c.dev.Features(), " "))

	c.ws = engine.NewWorkspace()
	c.ctx, err = engine.NewContext(c.dev, c.ws, model, c.opts.BatchSize, engine.Options{ConvAlgo: c.opts.ConvAlgo})
	if err != nil {
		return errors.Wrap(err, "training context")
	}
	c.images = make([]float32, c.opts.BatchSize*c.width*c.height)
	c.labels = make([]float32, c.opts.BatchSize)

	if c.IsRoot() {
		c.logger.Printf("Training dataset: %d images of %dx%d, %d ranks", c.trainSize, c.width, c.height, c.comm.Size())
		c.logger.Printf("Convolution algorithms: conv1 %s/%s, conv2 %s/%s/%s, workspace %d floats",
			c.ctx.Conv1.Forward, c.ctx.Conv1.Filter,
			c.ctx.Conv2.Forward, c.ctx.Conv2.Filter, c.ctx.Conv2.Data, c.ws.Size())
		model.Summary(c.logger.Writer())
	}
	return nil
}

func (c *Coordinator) initParams() {
	if c.opts.Pretrained {
		err := c.model.Load(c.opts.WeightsDir)
		if err == nil {
			return
		}
		c.logger.Printf("warning: cannot load pretrained weights, using random initialization: %v", err)
	}
	c.model.Randomize(c.rng)
}

// exchangeMeta broadcasts height, width, train size and train byte count
// from the root. Each value travels as two 16-bit halves so counts above
// 2^24 survive the float32 payload.
func (c *Coordinator) exchangeMeta(ctx context.Context) error {
	if c.IsRoot() {
		c.width, c.height = c.train.Width, c.train.Height
		c.trainSize = c.train.Count
		c.trainBytes = len(c.train.Images)
	}
	fields := []struct {
		tag comm.Tag
		val *int
	}{
		{comm.TagHeight, &c.height},
		{comm.TagWidth, &c.width},
		{comm.TagTrainSize, &c.trainSize},
		{comm.TagTrainImages, &c.trainBytes},
	}
	buf := make([]float32, 2)
	for _, f := range fields {
		if c.IsRoot() {
			buf[0], buf[1] = float32(*f.val>>16), float32(*f.val&0xffff)
		}
		if err := comm.Bcast(ctx, c.comm, Root, f.tag, buf); err != nil {
			return err
		}
		*f.val = int(buf[0])<<16 | int(buf[1])
	}
	return nil
}

// Step runs one iteration: every round dispatches batches, computes local
// gradients, broadcasts the global parameters, updates local parameters
// and gathers residuals into the global set.
func (c *Coordinator) Step(ctx context.Context, iter int) error {
	lr := c.opts.LR.LR(iter)
	rounds := c.opts.Schedule.MaxRounds(c.comm.Size())
	for r := 1; r <= rounds; r++ {
		if err := c.round(ctx, r, lr); err != nil {
			return errors.Wrapf(err, "iteration %d round %d", iter, r)
		}
	}
	return nil
}

func (c *Coordinator) active(w, round int) bool {
	return w != Root && c.opts.Schedule.Rounds(w) >= round
}

func (c *Coordinator) round(ctx context.Context, r int, lr float32) error {
	rank := c.comm.Rank()
	stream := c.ctx.Stream()

	if err := c.dispatch(ctx, r); err != nil {
		return errors.Wrap(err, "dispatch")
	}
	if c.active(rank, r) {
		c.ctx.LoadBatch(c.images, c.labels)
		c.ctx.Forward(c.local)
		c.ctx.Backward(c.local)
	}

	if c.IsRoot() {
		for i := range c.global {
			stream.CopyToHost(c.staging[i], c.global[i])
		}
	}
	for i := range c.staging {
		if err := comm.Bcast(ctx, c.comm, Root, comm.GlobalTag(net.Tensor(i)), c.staging[i]); err != nil {
			return errors.Wrap(err, "broadcast")
		}
	}

	if c.IsRoot() {
		return errors.Wrap(c.gather(ctx, r, lr), "gather")
	}

	for i := range c.global {
		stream.CopyToDevice(c.global[i], c.staging[i])
	}
	if !c.active(rank, r) {
		stream.Synchronize()
		return nil
	}
	stream.Launch(func() {
		c.rule.LocalUpdate(lr, c.local, c.global, c.ctx.Grads, c.residual)
	})
	for i := range c.residual {
		stream.CopyToHost(c.staging[i], c.residual[i])
	}
	for i := range c.staging {
		if err := c.comm.Send(ctx, Root, comm.ResidualTag(net.Tensor(i)), c.staging[i]); err != nil {
			return errors.Wrap(err, "residual")
		}
	}
	return nil
}

// dispatch sends one random training batch to every worker active in
// round r, images first, then labels.
func (c *Coordinator) dispatch(ctx context.Context, r int) error {
	if !c.IsRoot() {
		if !c.active(c.comm.Rank(), r) {
			return nil
		}
		if err := c.comm.Recv(ctx, Root, comm.TagBatchData, c.images); err != nil {
			return err
		}
		return c.comm.Recv(ctx, Root, comm.TagBatchLabels, c.labels)
	}

	batches := c.trainSize / c.opts.BatchSize
	for w := 1; w < c.comm.Size(); w++ {
		if !c.active(w, r) {
			continue
		}
		c.train.Batch(c.rng.Intn(batches), c.opts.BatchSize, c.images, c.labels)
		if err := c.comm.Send(ctx, w, comm.TagBatchData, c.images); err != nil {
			return err
		}
		if err := c.comm.Send(ctx, w, comm.TagBatchLabels, c.labels); err != nil {
			return err
		}
	}
	return nil
}

// gather receives the residual of every worker active in round r, in rank
// order, and folds it into the global parameters.
func (c *Coordinator) gather(ctx context.Context, r int, lr float32) error {
	stream := c.ctx.Stream()
	sum := c.opts.Aggregation == AggregateSum
	if sum {
		c.sum.Zero()
	}
	for w := 1; w < c.comm.Size(); w++ {
		if !c.active(w, r) {
			continue
		}
		for i := range c.staging {
			if err := c.comm.Recv(ctx, w, comm.ResidualTag(net.Tensor(i)), c.staging[i]); err != nil {
				return errors.Wrapf(err, "from rank %d", w)
			}
		}
		for i := range c.residual {
			stream.CopyToDevice(c.residual[i], c.staging[i])
		}
		if sum {
			stream.Launch(func() { opt.SumResiduals(c.sum, c.residual) })
		} else {
			stream.Launch(func() { c.rule.GlobalUpdate(lr, c.global, c.residual) })
		}
		stream.Synchronize()
	}
	if sum {
		stream.Launch(func() { c.rule.GlobalUpdate(lr, c.global, c.sum) })
		stream.Synchronize()
	}
	return nil
}

// Run sets up, trains for the configured number of iterations and, on the
// root, saves and evaluates the global parameters.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	if err := c.Setup(ctx); err != nil {
		return nil, err
	}
	if err := c.runTraining(ctx); err != nil {
		return nil, err
	}

	res := &Result{Iterations: c.opts.Iterations, MeanIteration: c.timer.Mean()}
	if !c.IsRoot() {
		return res, nil
	}
	res.Global = c.global.Clone()

	if c.opts.SaveData {
		if err := c.SaveGlobal(c.opts.WeightsDir); err != nil {
			return nil, err
		}
		c.logger.Printf("Saved global parameters to %s", c.opts.WeightsDir)
	}
	if c.test != nil && c.opts.Classify != 0 {
		n, errs, err := c.Evaluate(c.test, c.opts.Classify)
		if err != nil {
			return nil, errors.Wrap(err, "classification")
		}
		res.Evaluated, res.Errors = n, errs
		c.logger.Printf("Classification result: %.2f%% error (used %d images)", 100*res.ErrorRate(), n)
	}
	return res, nil
}

// runTraining runs every iteration. End callbacks fire even when a step fails.
func (c *Coordinator) runTraining(ctx context.Context) error {
	for _, cb := range c.callbacks {
		cb.OnTrainBegin(c)
	}
	defer func() {
		for _, cb := range c.callbacks {
			cb.OnTrainEnd(c)
		}
	}()

	for iter := 0; iter < c.opts.Iterations; iter++ {
		start := time.Now()
		if err := c.Step(ctx, iter); err != nil {
			return err
		}
		stats := IterationStats{
			Iteration: iter,
			LR:        c.opts.LR.LR(iter),
			Loss:      math.NaN(),
			Elapsed:   time.Since(start),
		}
		if !c.IsRoot() {
			stats.Loss = c.ctx.Loss()
		}
		for _, cb := range c.callbacks {
			cb.OnIterationEnd(stats)
		}
	}
	c.ctx.Synchronize()
	return nil
}

// SaveGlobal writes the global parameters under dir with the layer prefixes.
func (c *Coordinator) SaveGlobal(dir string) error {
	c.ctx.Synchronize()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create %s", dir)
	}
	out, err := net.New(c.opts.Arch, 1, c.width, c.height)
	if err != nil {
		return err
	}
	out.Params().CopyFrom(c.global)
	return errors.Wrap(out.Save(dir), "save global parameters")
}

// Close releases the training context.
func (c *Coordinator) Close() error {
	if c.ctx == nil {
		return nil
	}
	return c.ctx.Close()
}
