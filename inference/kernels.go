package inference

import "github.com/edgeml/personcar/layer/conv2d"
import "github.com/edgeml/personcar/parallel"

func (it *Interpreter) quantize(op *Op) {
	in, out, x, y := it.tensors(op)
	m, s := op.Multipliers[0], int(op.Shifts[0])
	for i, b := range x {
		v := MultiplyByQuantizedMultiplier(value(in, b)-in.ZeroPoint, m, s) + out.ZeroPoint
		y[i] = store(out, clamp(v, op.ActMin, op.ActMax))
	}
}

func (it *Interpreter) conv(op *Op) {
	in, out, x, y := it.tensors(op)
	n, h, w, ic := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	oh, ow, oc := out.Shape[1], out.Shape[2], out.Shape[3]
	_, padT := conv2d.OutputSize(h, op.Size, op.Stride)
	_, padL := conv2d.OutputSize(w, op.Size, op.Stride)
	k := op.Size * op.Size * ic

	parallel.ForEach(n*oh, it.Workers, func(row int) {
		b, oy := row/oh, row%oh
		for ox := 0; ox < ow; ox++ {
			dst := y[((b*oh+oy)*ow+ox)*oc:]
			for o := 0; o < oc; o++ {
				acc := op.Bias[o]
				kernel := op.Weights[o*k : (o+1)*k]
				for ky := 0; ky < op.Size; ky++ {
					iy := oy*op.Stride + ky - padT
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < op.Size; kx++ {
						ix := ox*op.Stride + kx - padL
						if ix < 0 || ix >= w {
							continue
						}
						src := x[((b*h+iy)*w+ix)*ic : ((b*h+iy)*w+ix+1)*ic]
						wts := kernel[(ky*op.Size+kx)*ic:]
						for c, v := range src {
							acc += (int32(int8(v)) - in.ZeroPoint) * int32(wts[c])
						}
					}
				}
				v := MultiplyByQuantizedMultiplier(acc, op.Multipliers[o], int(op.Shifts[o])) + out.ZeroPoint
				dst[o] = store(out, clamp(v, op.ActMin, op.ActMax))
			}
		}
	})
}

func (it *Interpreter) add(op *Op) {
	in1, out, x1, y := it.tensors(op)
	in2 := &it.model.Tensors[op.Inputs[1]]
	x2 := it.data[op.Inputs[1]]
	m, s := op.Multipliers, op.Shifts
	for i := range y {
		a := (value(in1, x1[i]) - in1.ZeroPoint) * (1 << uint(op.LeftShift))
		b := (value(in2, x2[i]) - in2.ZeroPoint) * (1 << uint(op.LeftShift))
		a = MultiplyByQuantizedMultiplier(a, m[0], int(s[0]))
		b = MultiplyByQuantizedMultiplier(b, m[1], int(s[1]))
		v := MultiplyByQuantizedMultiplier(a+b, m[2], int(s[2])) + out.ZeroPoint
		y[i] = store(out, clamp(v, op.ActMin, op.ActMax))
	}
}

func (it *Interpreter) mean(op *Op) {
	in, out, x, y := it.tensors(op)
	n, h, w, c := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			var acc int32
			for p := 0; p < h*w; p++ {
				acc += value(in, x[(b*h*w+p)*c+ch]) - in.ZeroPoint
			}
			v := MultiplyByQuantizedMultiplier(acc, op.Multipliers[0], int(op.Shifts[0])) + out.ZeroPoint
			y[b*c+ch] = store(out, clamp(v, op.ActMin, op.ActMax))
		}
	}
}

func (it *Interpreter) fullyConnected(op *Op) {
	in, out, x, y := it.tensors(op)
	n, units := in.Shape[0], in.Shape[1]
	oc := out.Shape[1]
	for b := 0; b < n; b++ {
		src := x[b*units : (b+1)*units]
		for o := 0; o < oc; o++ {
			acc := op.Bias[o]
			for i, v := range src {
				acc += (value(in, v) - in.ZeroPoint) * int32(op.Weights[o*units+i])
			}
			v := MultiplyByQuantizedMultiplier(acc, op.Multipliers[o], int(op.Shifts[o])) + out.ZeroPoint
			y[b*oc+o] = store(out, clamp(v, op.ActMin, op.ActMax))
		}
	}
}

func (it *Interpreter) logistic(op *Op) {
	_, _, x, y := it.tensors(op)
	for i, v := range x {
		y[i] = op.LUT[int(int8(v))+128]
	}
}
