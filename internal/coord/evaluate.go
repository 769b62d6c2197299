package coord

import (
	"github.com/FlavioCFOliveira/admmnet/internal/dataset"
	"github.com/FlavioCFOliveira/admmnet/internal/engine"
	"github.com/pkg/errors"
)

// Evaluate classifies the first limit images of set one at a time with the
// global parameters (all of them when limit is negative). It returns the
// number of images classified and the number of mistakes. The batch-1
// context shares the training workspace, growing it if needed.
func (c *Coordinator) Evaluate(set *dataset.Set, limit int) (n, mistakes int, err error) {
	if set.Width != c.width || set.Height != c.height {
		return 0, 0, errors.Errorf("test images are %dx%d, network expects %dx%d", set.Width, set.Height, c.width, c.height)
	}
	n = set.Count
	if limit >= 0 && limit < n {
		n = limit
	}

	c.ctx.Synchronize()
	before := c.ws.Size()
	eval, err := engine.NewContext(c.dev, c.ws, c.model, 1, engine.Options{ConvAlgo: c.opts.ConvAlgo})
	if err != nil {
		return 0, 0, errors.Wrap(err, "evaluation context")
	}
	defer eval.Close()
	if c.ws.Size() > before {
		c.logger.Printf("Workspace grown from %d to %d floats for evaluation", before, c.ws.Size())
	}

	image := make([]float32, set.ImageSize())
	for i := 0; i < n; i++ {
		set.Normalize(image, i, 1)
		if eval.Predict(c.global, image)[0] != int(set.Labels[i]) {
			mistakes++
		}
	}
	return n, mistakes, nil
}
