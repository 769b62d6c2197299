package net

import (
	"path/filepath"

	"github.com/FlavioCFOliveira/admmnet/internal/layer"
	"github.com/pkg/errors"
)

// File prefixes of the four parametric layers.
const (
	PrefixConv1 = "conv1"
	PrefixConv2 = "conv2"
	PrefixFC1   = "ip1"
	PrefixFC2   = "ip2"
)

func (n *LeNet) prefixed() []struct {
	prefix string
	layer  layer.Parametric
} {
	return []struct {
		prefix string
		layer  layer.Parametric
	}{
		{PrefixConv1, n.Conv1},
		{PrefixConv2, n.Conv2},
		{PrefixFC1, n.FC1},
		{PrefixFC2, n.FC2},
	}
}

// Save writes every layer's weights under dir.
// The optimizer state is not saved.
func (n *LeNet) Save(dir string) error {
	for _, e := range n.prefixed() {
		if err := layer.Save(e.layer, filepath.Join(dir, e.prefix)); err != nil {
			return errors.Wrapf(err, "save %s", e.prefix)
		}
	}
	return nil
}

// Load reads every layer's weights from dir.
func (n *LeNet) Load(dir string) error {
	for _, e := range n.prefixed() {
		if err := layer.Load(e.layer, filepath.Join(dir, e.prefix)); err != nil {
			return errors.Wrapf(err, "load %s", e.prefix)
		}
	}
	return nil
}
