package forwarder

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/jd3nn1s/rooibos/ecm"
	"github.com/jd3nn1s/rooibos/schema"
	"github.com/pkg/errors"
)

type Header struct {
	Type  uint8
	Count uint8
}

const TypeTelemetry = 1

// encodePacket lays out the named parameters in order: a float32 for each
// scalar and a uint32 bit mask for each bitfield, little endian.
func encodePacket(names []string, bits map[string][]string, frame ecm.Frame) ([]byte, error) {
	buf := bytes.NewBuffer([]byte{})
	hdr := Header{
		Type:  TypeTelemetry,
		Count: uint8(len(names)),
	}
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return nil, errors.Wrap(err, "unable to write udp packet header")
	}
	for _, name := range names {
		v, ok := frame[name]
		if !ok {
			return nil, errors.Errorf("%s missing from telemetry", name)
		}
		var field interface{}
		switch v.Kind {
		case schema.Scalar:
			field = float32(v.Scalar)
		case schema.Bitfield:
			field = bitMask(bits[name], v.Flags)
		default:
			return nil, errors.Errorf("%s has no kind", name)
		}
		if err := binary.Write(buf, binary.LittleEndian, field); err != nil {
			return nil, errors.Wrapf(err, "unable to write %s", name)
		}
	}
	return buf.Bytes(), nil
}

// bitMask packs flags with order[0] as the least significant bit.
func bitMask(order []string, flags map[string]bool) uint32 {
	var m uint32
	for i, name := range order {
		if i >= 32 {
			break
		}
		if flags[name] {
			m |= 1 << uint(i)
		}
	}
	return m
}

// bitOrders collects the declared bit order of every bitfield in names.
func bitOrders(s *schema.Schema, names []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, name := range names {
		p, ok := s.Lookup(name)
		if !ok {
			return nil, errors.Wrapf(ecm.ErrUnknownParameter, "%q", name)
		}
		if p.Kind == schema.Bitfield {
			out[name] = p.Bitfield.Bits
		}
	}
	return out, nil
}

// openConfig opens a config file relative to the running binary.
func openConfig(fileName string) (*os.File, error) {
	dir, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to determine binary location")
	}
	if filepath.IsAbs(fileName) {
		dir = ""
	}
	file, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open file %s", fileName)
	}
	return file, nil
}

func decodeConfig(configReader io.Reader, config interface{}) error {
	configData, err := ioutil.ReadAll(configReader)
	if err != nil {
		return errors.Wrap(err, "unable to read config reader")
	}
	if _, err := toml.Decode(string(configData), config); err != nil {
		return errors.Wrap(err, "unable to decode configuration")
	}
	return nil
}
