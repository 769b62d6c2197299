package comm

import (
	"fmt"

	"github.com/FlavioCFOliveira/admmnet/internal/net"
)

// Tag identifies the channel a message travels on.
type Tag int

const (
	TagBatchData   Tag = 0
	TagBatchLabels Tag = 1
	TagHeight      Tag = 2
	TagWidth       Tag = 3
	TagTrainSize   Tag = 4
	TagTrainImages Tag = 5

	tagGlobalBase   Tag = 6
	tagResidualBase Tag = tagGlobalBase + Tag(net.NumTensors)

	// NumTags is one past the highest tag in use.
	NumTags = tagResidualBase + Tag(net.NumTensors)
)

// GlobalTag is the channel carrying global parameter tensor t.
func GlobalTag(t net.Tensor) Tag { return tagGlobalBase + Tag(t) }

// ResidualTag is the channel carrying residual tensor t.
func ResidualTag(t net.Tensor) Tag { return tagResidualBase + Tag(t) }

func (t Tag) String() string {
	switch {
	case t == TagBatchData:
		return "batch-data"
	case t == TagBatchLabels:
		return "batch-labels"
	case t == TagHeight:
		return "height"
	case t == TagWidth:
		return "width"
	case t == TagTrainSize:
		return "train-size"
	case t == TagTrainImages:
		return "train-images"
	case t >= tagGlobalBase && t < tagResidualBase:
		return "global/" + net.Tensor(t-tagGlobalBase).String()
	case t >= tagResidualBase && t < NumTags:
		return "residual/" + net.Tensor(t-tagResidualBase).String()
	}
	return fmt.Sprintf("tag(%d)", int(t))
}
