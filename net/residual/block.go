package residual

import "fmt"
import "math/rand"

import "github.com/edgeml/personcar/layer"
import "github.com/edgeml/personcar/layer/activation"
import "github.com/edgeml/personcar/layer/batchnorm"
import "github.com/edgeml/personcar/layer/conv2d"
import "github.com/edgeml/personcar/tensor"

// Block is a downsampling residual block:
//
//	x -> conv3x3/2 -> bn -> relu -> conv3x3 -> bn -+-> add -> relu
//	x -> conv1x1/2 -> bn --------------------------+
type Block struct {
	Conv1     *conv2d.Conv2D
	BN1       *batchnorm.BatchNorm
	Conv2     *conv2d.Conv2D
	BN2       *batchnorm.BatchNorm
	ShortConv *conv2d.Conv2D
	ShortBN   *batchnorm.BatchNorm

	relu1 activation.ReLU
	relu2 activation.ReLU
}

func newBlock(name string, in, filters int, rng *rand.Rand) (*Block, error) {
	conv1, err := conv2d.New(name+"/conv1", in, filters, 3, 2, rng)
	if err != nil {
		return nil, err
	}
	conv2, err := conv2d.New(name+"/conv2", filters, filters, 3, 1, rng)
	if err != nil {
		return nil, err
	}
	short, err := conv2d.New(name+"/shortcut", in, filters, 1, 2, rng)
	if err != nil {
		return nil, err
	}
	return &Block{
		Conv1:     conv1,
		BN1:       batchnorm.MustNew(name+"/bn1", filters),
		Conv2:     conv2,
		BN2:       batchnorm.MustNew(name+"/bn2", filters),
		ShortConv: short,
		ShortBN:   batchnorm.MustNew(name+"/shortcut_bn", filters),
	}, nil
}

// Filters returns the number of output channels.
func (b *Block) Filters() int {
	return b.Conv1.OutC
}

func (b *Block) setWorkers(n int) {
	b.Conv1.Workers = n
	b.Conv2.Workers = n
	b.ShortConv.Workers = n
}

func (b *Block) Forward(x *tensor.Tensor, training bool) *tensor.Tensor {
	y := b.Conv1.Forward(x, training)
	y = b.BN1.Forward(y, training)
	y = b.relu1.Forward(y, training)
	y = b.Conv2.Forward(y, training)
	y = b.BN2.Forward(y, training)

	s := b.ShortConv.Forward(x, training)
	s = b.ShortBN.Forward(s, training)
	if !tensor.SameShape(y, s) {
		panic(fmt.Sprintf("residual: main path %v and shortcut %v differ", y.Shape, s.Shape))
	}
	y.Add(s)
	return b.relu2.Forward(y, training)
}

func (b *Block) Backward(grad *tensor.Tensor) *tensor.Tensor {
	g := b.relu2.Backward(grad)

	m := b.BN2.Backward(g)
	m = b.Conv2.Backward(m)
	m = b.relu1.Backward(m)
	m = b.BN1.Backward(m)
	dx := b.Conv1.Backward(m)

	s := b.ShortBN.Backward(g)
	dx.Add(b.ShortConv.Backward(s))
	return dx
}

func (b *Block) Params() (ps []*layer.Param) {
	for _, l := range b.layers() {
		ps = append(ps, l.Params()...)
	}
	return
}

// layers lists the layers owning variables in a fixed order.
func (b *Block) layers() []layer.Layer {
	return []layer.Layer{b.Conv1, b.BN1, b.Conv2, b.BN2, b.ShortConv, b.ShortBN}
}
