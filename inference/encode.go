package inference

import "bytes"
import "io"
import "io/ioutil"
import "math"
import "os"
import "sort"

import "github.com/pkg/errors"
import "golang.org/x/crypto/blake2b"
import "google.golang.org/protobuf/encoding/protowire"

// File layout: magic, version, BLAKE2b-256 of the payload, payload.
const (
	Magic   = "PCQM"
	Version = 1

	headerSize = len(Magic) + 1 + blake2b.Size256
)

// ErrDigest is returned when the payload does not match its digest.
var ErrDigest = errors.New("model digest mismatch")

// WriteFile writes m to path.
func WriteFile(path string, m *Model) error {
	var buf bytes.Buffer
	if err := Encode(&buf, m); err != nil {
		return err
	}
	return errors.Wrap(ioutil.WriteFile(path, buf.Bytes(), 0o644), "write model")
}

// ReadFile reads and validates the model at path.
func ReadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open model")
	}
	defer f.Close()
	m, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", path)
	}
	return m, nil
}

// Encode writes the framed model to w.
func Encode(w io.Writer, m *Model) error {
	payload := Marshal(m)
	sum := blake2b.Sum256(payload)
	header := append([]byte(Magic), Version)
	header = append(header, sum[:]...)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Decode reads a framed model from r, verifies its digest and validates it.
func Decode(r io.Reader) (*Model, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize {
		return nil, errors.New("truncated model header")
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, errors.New("not a quantized model")
	}
	if v := data[len(Magic)]; v != Version {
		return nil, errors.Errorf("model version %d, want %d", v, Version)
	}
	payload := data[headerSize:]
	sum := blake2b.Sum256(payload)
	if !bytes.Equal(sum[:], data[len(Magic)+1:headerSize]) {
		return nil, ErrDigest
	}
	m, err := Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Digest returns the BLAKE2b-256 of the encoded model.
func Digest(m *Model) [blake2b.Size256]byte {
	return blake2b.Sum256(Marshal(m))
}

// Marshal encodes m as a protobuf wire message.
func Marshal(m *Model) []byte {
	var b []byte
	b = appendString(b, 1, m.Name)
	for i := range m.Tensors {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(&m.Tensors[i]))
	}
	for i := range m.Ops {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalOp(&m.Ops[i]))
	}
	b = appendVarint(b, 4, uint64(m.Input))
	b = appendPacked(b, 5, ints(m.Outputs))

	keys := make([]string, 0, len(m.Metadata))
	for k := range m.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var e []byte
		e = appendString(e, 1, k)
		e = appendString(e, 2, m.Metadata[k])
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, e)
	}
	return b
}

func marshalTensor(t *Tensor) []byte {
	var b []byte
	b = appendString(b, 1, t.Name)
	b = appendVarint(b, 2, uint64(t.Type))
	b = appendPacked(b, 3, ints(t.Shape))
	b = protowire.AppendTag(b, 4, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(t.Scale))
	b = appendVarint(b, 5, protowire.EncodeZigZag(int64(t.ZeroPoint)))
	return b
}

func marshalOp(op *Op) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(op.Kind))
	b = appendPacked(b, 2, ints(op.Inputs))
	b = appendVarint(b, 3, uint64(op.Output))
	if len(op.Weights) > 0 {
		w := make([]byte, len(op.Weights))
		for i, v := range op.Weights {
			w[i] = byte(v)
		}
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, w)
	}
	b = appendPacked(b, 5, zigzag(op.Bias))
	b = appendPacked(b, 6, zigzag(op.Multipliers))
	b = appendPacked(b, 7, zigzag(op.Shifts))
	b = appendVarint(b, 8, uint64(op.Size))
	b = appendVarint(b, 9, uint64(op.Stride))
	b = appendVarint(b, 10, protowire.EncodeZigZag(int64(op.ActMin)))
	b = appendVarint(b, 11, protowire.EncodeZigZag(int64(op.ActMax)))
	if len(op.LUT) > 0 {
		b = protowire.AppendTag(b, 12, protowire.BytesType)
		b = protowire.AppendBytes(b, op.LUT)
	}
	b = appendVarint(b, 13, uint64(op.LeftShift))
	return b
}

// Unmarshal decodes a payload written by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (*Model, error) {
	m := &Model{Metadata: map[string]string{}}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			m.Name = string(v)
		case 2:
			t, err := unmarshalTensor(v)
			if err != nil {
				return errors.Wrapf(err, "tensor %d", len(m.Tensors))
			}
			m.Tensors = append(m.Tensors, *t)
		case 3:
			op, err := unmarshalOp(v)
			if err != nil {
				return errors.Wrapf(err, "op %d", len(m.Ops))
			}
			m.Ops = append(m.Ops, *op)
		case 4:
			m.Input = int(x)
		case 5:
			outs, err := packed(v)
			if err != nil {
				return err
			}
			m.Outputs = toInts(outs)
		case 6:
			var k, val string
			err := fields(v, func(num protowire.Number, _ protowire.Type, s []byte, _ uint64) error {
				switch num {
				case 1:
					k = string(s)
				case 2:
					val = string(s)
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Metadata[k] = val
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode model")
	}
	return m, nil
}

func unmarshalTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case 1:
			t.Name = string(v)
		case 2:
			t.Type = DType(x)
		case 3:
			s, err := packed(v)
			if err != nil {
				return err
			}
			t.Shape = toInts(s)
		case 4:
			t.Scale = math.Float32frombits(uint32(x))
		case 5:
			t.ZeroPoint = int32(protowire.DecodeZigZag(x))
		}
		return nil
	})
	return t, err
}

func unmarshalOp(b []byte) (*Op, error) {
	op := &Op{}
	err := fields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		var err error
		switch num {
		case 1:
			op.Kind = OpKind(x)
		case 2:
			var in []uint64
			in, err = packed(v)
			op.Inputs = toInts(in)
		case 3:
			op.Output = int(x)
		case 4:
			op.Weights = make([]int8, len(v))
			for i, w := range v {
				op.Weights[i] = int8(w)
			}
		case 5:
			op.Bias, err = unzigzag(v)
		case 6:
			op.Multipliers, err = unzigzag(v)
		case 7:
			op.Shifts, err = unzigzag(v)
		case 8:
			op.Size = int(x)
		case 9:
			op.Stride = int(x)
		case 10:
			op.ActMin = int32(protowire.DecodeZigZag(x))
		case 11:
			op.ActMax = int32(protowire.DecodeZigZag(x))
		case 12:
			op.LUT = append([]uint8(nil), v...)
		case 13:
			op.LeftShift = int(x)
		}
		return err
	})
	return op, err
}

// fields walks the fields of a message. Length delimited values arrive in
// v, varint and fixed32 values in x.
func fields(b []byte, f func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var v []byte
		var x uint64
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var x32 uint32
			x32, n = protowire.ConsumeFixed32(b)
			x = uint64(x32)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := f(num, typ, v, x); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendPacked(b []byte, num protowire.Number, vs []uint64) []byte {
	if len(vs) == 0 {
		return b
	}
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

func packed(b []byte) ([]uint64, error) {
	var vs []uint64
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		vs = append(vs, v)
		b = b[n:]
	}
	return vs, nil
}

func ints(vs []int) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

func toInts(vs []uint64) []int {
	out := make([]int, len(vs))
	for i, v := range vs {
		out[i] = int(v)
	}
	return out
}

func zigzag(vs []int32) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = protowire.EncodeZigZag(int64(v))
	}
	return out
}

func unzigzag(b []byte) ([]int32, error) {
	vs, err := packed(b)
	if err != nil {
		return nil, err
	}
	out := make([]int32, len(vs))
	for i, v := range vs {
		out[i] = int32(protowire.DecodeZigZag(v))
	}
	return out, nil
}
