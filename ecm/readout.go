package ecm

import (
	"fmt"
	"math"
	"strings"

	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
)

// Readout renders v as "name: value units", formatting scalars with the
// parameter's format string. Bitfields list their set flags in bit order.
func (d *Decoder) Readout(name string, v Value) (string, error) {
	p, err := d.lookup(name)
	if err != nil {
		return "", err
	}
	if p.Kind != v.Kind {
		return "", errors.Wrapf(ErrWrongKind, "%s is a %s, value is a %s", name, p.Kind, v.Kind)
	}

	var value string
	if p.Kind == schema.Bitfield {
		var set []string
		for _, bit := range p.Bitfield.Bits {
			if v.Flags[bit] {
				set = append(set, bit)
			}
		}
		value = strings.Join(set, " ")
		if value == "" {
			value = "-"
		}
	} else {
		value = formatScalar(p.Format, v.Scalar)
	}
	return strings.TrimRight(fmt.Sprintf("%s: %s %s", name, value, p.Units), " "), nil
}

// Readouts renders names from frame in the order given.
func (d *Decoder) Readouts(frame Frame, names ...string) ([]string, error) {
	lines := make([]string, 0, len(names))
	for _, name := range names {
		v, ok := frame[name]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownParameter, "%q missing from frame", name)
		}
		line, err := d.Readout(name, v)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func formatScalar(spec string, v float64) string {
	if spec == "" {
		return fmt.Sprintf("%g", v)
	}
	switch spec[len(spec)-1] {
	case 'd':
		return fmt.Sprintf("%"+spec, int64(math.Round(v)))
	case 'e', 'E', 'f', 'F', 'g', 'G':
		return fmt.Sprintf("%"+spec, v)
	}
	return fmt.Sprintf("%"+spec+"g", v)
}
