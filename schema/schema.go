package schema

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"regexp"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Kind int

// formatSpec accepts the number format specs used by format_string, such
// as "4.1f" or "5d".
var formatSpec = regexp.MustCompile(`^[-+ 0]*[0-9]*(\.[0-9]+)?[eEfFgGd]?$`)

const (
	Scalar Kind = iota + 1
	Bitfield
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Bitfield:
		return "bitfield"
	}
	return "unknown"
}

// Address is one byte range of a parameter within the snapshot.
type Address struct {
	Offset   int `yaml:"offset"`
	NumBytes int `yaml:"num_bytes"`
}

type ScalarInfo struct {
	BigEndian bool
	Signed    bool
	Scale     float64
	Offset    float64
}

type BitfieldInfo struct {
	// Bits[0] is the least significant bit.
	Bits []string
}

// Parameter is a single live data entry. Exactly one of Scalar or Bitfield
// is set, matching Kind.
type Parameter struct {
	Name      string
	Kind      Kind
	Addresses []Address
	Units     string
	Format    string

	Scalar   *ScalarInfo
	Bitfield *BitfieldInfo
}

// Width is the number of bytes the parameter's addresses concatenate to.
func (p *Parameter) Width() int {
	n := 0
	for _, a := range p.Addresses {
		n += a.NumBytes
	}
	return n
}

// Schema is the immutable lookup table of live data parameters.
type Schema struct {
	snapshotLength int
	params         map[string]*Parameter
	names          []string
}

func (s *Schema) SnapshotLength() int {
	return s.snapshotLength
}

// Lookup returns the parameter with the given name.
func (s *Schema) Lookup(name string) (*Parameter, bool) {
	p, ok := s.params[name]
	return p, ok
}

// Names returns all parameter names in sorted order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

type fileParameter struct {
	Type         string    `yaml:"type"`
	Addresses    []Address `yaml:"addresses"`
	Endianness   string    `yaml:"endianness"`
	Signed       bool      `yaml:"signed"`
	ScaleFactor  *float64  `yaml:"scale_factor"`
	Offset       float64   `yaml:"offset"`
	Bits         []string  `yaml:"bits"`
	Units        string    `yaml:"units"`
	FormatString string    `yaml:"format_string"`
}

type file struct {
	SnapshotLength int                      `yaml:"snapshot_length"`
	Parameters     map[string]fileParameter `yaml:"parameters"`
}

// Load reads a schema file. JSON files are accepted as well as YAML.
func Load(fileName string) (*Schema, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open schema file %s", fileName)
	}
	defer f.Close()
	return LoadFromReader(f)
}

func LoadFromReader(r io.Reader) (*Schema, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read schema")
	}
	var sf file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		return nil, errors.Wrap(err, "unable to decode schema")
	}
	return build(sf)
}

func build(sf file) (*Schema, error) {
	if sf.SnapshotLength <= 0 {
		return nil, errors.New("schema: snapshot_length must be > 0")
	}
	s := &Schema{
		snapshotLength: sf.SnapshotLength,
		params:         make(map[string]*Parameter, len(sf.Parameters)),
	}
	for name, fp := range sf.Parameters {
		p, err := buildParameter(name, fp, sf.SnapshotLength)
		if err != nil {
			return nil, err
		}
		s.params[name] = p
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	return s, nil
}

func buildParameter(name string, fp fileParameter, snapshotLength int) (*Parameter, error) {
	if len(fp.Addresses) == 0 {
		return nil, errors.Errorf("schema: %s has no addresses", name)
	}
	for _, a := range fp.Addresses {
		if a.NumBytes <= 0 || a.Offset < 0 {
			return nil, errors.Errorf("schema: %s has invalid range %d+%d", name, a.Offset, a.NumBytes)
		}
		if a.Offset+a.NumBytes > snapshotLength {
			return nil, errors.Errorf("schema: %s range %d+%d exceeds snapshot length %d",
				name, a.Offset, a.NumBytes, snapshotLength)
		}
	}
	p := &Parameter{
		Name:      name,
		Addresses: append([]Address(nil), fp.Addresses...),
		Units:     fp.Units,
		Format:    fp.FormatString,
	}
	width := p.Width()
	if width > 8 {
		return nil, errors.Errorf("schema: %s is %d bytes wide, at most 8 supported", name, width)
	}

	switch fp.Type {
	case "scalar":
		p.Kind = Scalar
		info := &ScalarInfo{
			Signed: fp.Signed,
			Scale:  1,
			Offset: fp.Offset,
		}
		switch fp.Endianness {
		case "big":
			info.BigEndian = true
		case "little":
		default:
			return nil, errors.Errorf("schema: %s has unknown endianness %q", name, fp.Endianness)
		}
		if fp.ScaleFactor != nil {
			info.Scale = *fp.ScaleFactor
		}
		if !formatSpec.MatchString(fp.FormatString) {
			return nil, errors.Errorf("schema: %s has invalid format string %q", name, fp.FormatString)
		}
		p.Scalar = info
	case "bitfield":
		p.Kind = Bitfield
		if len(fp.Bits) == 0 {
			return nil, errors.Errorf("schema: bitfield %s has no bits", name)
		}
		if len(fp.Bits) > width*8 {
			return nil, errors.Errorf("schema: bitfield %s declares %d bits in %d bytes",
				name, len(fp.Bits), width)
		}
		p.Bitfield = &BitfieldInfo{
			Bits: append([]string(nil), fp.Bits...),
		}
	default:
		return nil, errors.Errorf("schema: %s has unknown type %q", name, fp.Type)
	}
	return p, nil
}
