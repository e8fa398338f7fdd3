package ecm

import (
	"time"

	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
)

// Snapshot is one complete live data sample. It cannot be changed once
// captured.
type Snapshot struct {
	data       []byte
	CapturedAt time.Time
}

// NewSnapshot captures a copy of data.
func NewSnapshot(data []byte) *Snapshot {
	return &Snapshot{
		data:       append([]byte(nil), data...),
		CapturedAt: time.Now(),
	}
}

// Data returns a copy of the raw snapshot bytes.
func (s *Snapshot) Data() []byte {
	return append([]byte(nil), s.data...)
}

// Value is a decoded parameter: Scalar is set for scalar parameters and
// Flags for bitfields.
type Value struct {
	Kind   schema.Kind
	Scalar float64
	Flags  map[string]bool
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Scalar != o.Scalar || len(v.Flags) != len(o.Flags) {
		return false
	}
	for k, b := range v.Flags {
		if ob, ok := o.Flags[k]; !ok || ob != b {
			return false
		}
	}
	return true
}

// Frame maps parameter names to decoded values.
type Frame map[string]Value

func (f Frame) Equal(o Frame) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

type Decoder struct {
	schema *schema.Schema
}

func NewDecoder(s *schema.Schema) *Decoder {
	return &Decoder{schema: s}
}

func (d *Decoder) Schema() *schema.Schema {
	return d.schema
}

func (d *Decoder) lookup(name string) (*schema.Parameter, error) {
	p, ok := d.schema.Lookup(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownParameter, "%q", name)
	}
	return p, nil
}

// ParameterBytes concatenates the parameter's address ranges in declared order.
func (d *Decoder) ParameterBytes(data []byte, name string) ([]byte, error) {
	p, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	return parameterBytes(data, p)
}

func parameterBytes(data []byte, p *schema.Parameter) ([]byte, error) {
	out := make([]byte, 0, p.Width())
	for _, a := range p.Addresses {
		if a.Offset < 0 || a.Offset+a.NumBytes > len(data) {
			return nil, errors.Wrapf(ErrOutOfBounds, "%s: %d+%d in %d byte snapshot",
				p.Name, a.Offset, a.NumBytes, len(data))
		}
		out = append(out, data[a.Offset:a.Offset+a.NumBytes]...)
	}
	return out, nil
}

func (d *Decoder) DecodeScalar(data []byte, name string) (float64, error) {
	p, err := d.lookup(name)
	if err != nil {
		return 0, err
	}
	return decodeScalar(data, p)
}

func decodeScalar(data []byte, p *schema.Parameter) (float64, error) {
	if p.Kind != schema.Scalar {
		return 0, errors.Wrapf(ErrWrongKind, "%s is a %s", p.Name, p.Kind)
	}
	b, err := parameterBytes(data, p)
	if err != nil {
		return 0, err
	}
	info := p.Scalar
	raw := toUint(b, info.BigEndian)

	var v float64
	if info.Signed {
		bits := uint(len(b) * 8)
		v = float64(int64(raw<<(64-bits)) >> (64 - bits))
	} else {
		v = float64(raw)
	}
	return v*info.Scale + info.Offset, nil
}

func (d *Decoder) DecodeBitfield(data []byte, name string) (map[string]bool, error) {
	p, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	return decodeBitfield(data, p)
}

func decodeBitfield(data []byte, p *schema.Parameter) (map[string]bool, error) {
	if p.Kind != schema.Bitfield {
		return nil, errors.Wrapf(ErrWrongKind, "%s is a %s", p.Name, p.Kind)
	}
	b, err := parameterBytes(data, p)
	if err != nil {
		return nil, err
	}
	raw := toUint(b, true)
	out := make(map[string]bool, len(p.Bitfield.Bits))
	for i, name := range p.Bitfield.Bits {
		out[name] = (raw>>uint(i))&1 == 1
	}
	return out, nil
}

func decodeValue(data []byte, p *schema.Parameter) (Value, error) {
	v := Value{Kind: p.Kind}
	var err error
	switch p.Kind {
	case schema.Scalar:
		v.Scalar, err = decodeScalar(data, p)
	case schema.Bitfield:
		v.Flags, err = decodeBitfield(data, p)
	default:
		err = errors.Wrapf(ErrWrongKind, "%s has no kind", p.Name)
	}
	return v, err
}

// DecodeAll decodes every parameter in the schema. Any failure fails the
// whole frame.
func (d *Decoder) DecodeAll(data []byte) (Frame, error) {
	return d.Decode(data, d.schema.Names()...)
}

// Decode decodes the named parameters. Any failure fails the whole frame.
func (d *Decoder) Decode(data []byte, names ...string) (Frame, error) {
	out := make(Frame, len(names))
	for _, name := range names {
		p, err := d.lookup(name)
		if err != nil {
			return nil, err
		}
		v, err := decodeValue(data, p)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// PutRaw writes raw into data at the parameter's addresses, using the same
// byte order the decoder reads it with.
func (d *Decoder) PutRaw(data []byte, name string, raw uint64) error {
	p, err := d.lookup(name)
	if err != nil {
		return err
	}
	bigEndian := true
	if p.Kind == schema.Scalar {
		bigEndian = p.Scalar.BigEndian
	}
	width := p.Width()
	b := make([]byte, width)
	for i := 0; i < width; i++ {
		shift := uint(8 * i)
		if bigEndian {
			b[width-1-i] = byte(raw >> shift)
		} else {
			b[i] = byte(raw >> shift)
		}
	}
	for _, a := range p.Addresses {
		if a.Offset < 0 || a.Offset+a.NumBytes > len(data) {
			return errors.Wrapf(ErrOutOfBounds, "%s: %d+%d in %d byte snapshot",
				p.Name, a.Offset, a.NumBytes, len(data))
		}
	}
	pos := 0
	for _, a := range p.Addresses {
		copy(data[a.Offset:a.Offset+a.NumBytes], b[pos:pos+a.NumBytes])
		pos += a.NumBytes
	}
	return nil
}

func toUint(b []byte, bigEndian bool) uint64 {
	var v uint64
	if bigEndian {
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
