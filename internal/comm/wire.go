package comm

import (
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Envelope field numbers.
const (
	fieldSrc  protowire.Number = 1
	fieldTag  protowire.Number = 2
	fieldData protowire.Number = 3
)

// Envelope is one message on the wire.
type Envelope struct {
	Src  int
	Tag  Tag
	Data []float32
}

// Marshal encodes e as protobuf wire format: src and tag as varints and
// data as packed fixed32.
func (e Envelope) Marshal() []byte {
	b := make([]byte, 0, 16+4*len(e.Data))
	b = protowire.AppendTag(b, fieldSrc, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Src))
	b = protowire.AppendTag(b, fieldTag, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Tag))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(4*len(e.Data)))
	for _, v := range e.Data {
		b = protowire.AppendFixed32(b, math.Float32bits(v))
	}
	return b
}

// UnmarshalEnvelope decodes b. Unknown fields are skipped.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, errors.Wrap(protowire.ParseError(n), "envelope tag")
		}
		b = b[n:]

		switch {
		case num == fieldSrc && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, errors.Wrap(protowire.ParseError(n), "envelope src")
			}
			e.Src = int(v)
			b = b[n:]
		case num == fieldTag && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, errors.Wrap(protowire.ParseError(n), "envelope tag field")
			}
			e.Tag = Tag(v)
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, errors.Wrap(protowire.ParseError(n), "envelope data")
			}
			if len(raw)%4 != 0 {
				return e, errors.Errorf("envelope data length %d is not a multiple of 4", len(raw))
			}
			e.Data = make([]float32, 0, len(raw)/4)
			for len(raw) > 0 {
				v, m := protowire.ConsumeFixed32(raw)
				if m < 0 {
					return e, errors.Wrap(protowire.ParseError(m), "envelope value")
				}
				e.Data = append(e.Data, math.Float32frombits(v))
				raw = raw[m:]
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, errors.Wrap(protowire.ParseError(n), "envelope unknown field")
			}
			b = b[n:]
		}
	}
	return e, nil
}
