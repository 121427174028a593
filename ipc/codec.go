// Package ipc carries script-bound messages across a process boundary.
//
// Every message is one protobuf-compatible record. The envelope has one
// length-delimited field per message kind:
//
//	1 free          { 1 kind varint, 2 id fixed64 }
//	2 exit          {}
//	3 clean_device  { 1 device fixed64, 2 pipeline varint }
//	4 op_result     { 1 device fixed64, 2 scope varint, 3 pipeline varint, 4 error string }
//
// On a stream each record is preceded by its varint length.
package ipc

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gogpu/gpuproc/gpucore"
	"github.com/gogpu/gpuproc/script"
)

const (
	fieldFree        protowire.Number = 1
	fieldExit        protowire.Number = 2
	fieldCleanDevice protowire.Number = 3
	fieldOpResult    protowire.Number = 4
)

var (
	// ErrUnknownMessage is returned for records without a known message
	// field and for Msg implementations outside the script package.
	ErrUnknownMessage = errors.New("ipc: unknown message")

	// ErrMalformed is returned for records that are not valid protobuf.
	ErrMalformed = errors.New("ipc: malformed record")
)

// Marshal appends the record for msg to b.
func Marshal(b []byte, msg script.Msg) ([]byte, error) {
	var (
		field protowire.Number
		body  []byte
	)
	switch m := msg.(type) {
	case script.Free:
		field = fieldFree
		body = protowire.AppendTag(body, 1, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.Kind))
		body = protowire.AppendTag(body, 2, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, uint64(m.ID))
	case script.Exit:
		field = fieldExit
	case script.CleanDevice:
		field = fieldCleanDevice
		body = protowire.AppendTag(body, 1, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, uint64(m.Device.Raw()))
		body = protowire.AppendTag(body, 2, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.Pipeline))
	case script.OpResult:
		field = fieldOpResult
		body = protowire.AppendTag(body, 1, protowire.Fixed64Type)
		body = protowire.AppendFixed64(body, uint64(m.Device.Raw()))
		body = protowire.AppendTag(body, 2, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.Scope))
		body = protowire.AppendTag(body, 3, protowire.VarintType)
		body = protowire.AppendVarint(body, uint64(m.Pipeline))
		if m.Error != "" {
			body = protowire.AppendTag(body, 4, protowire.BytesType)
			body = protowire.AppendString(body, m.Error)
		}
	default:
		return b, errors.Wrapf(ErrUnknownMessage, "cannot marshal %T", msg)
	}
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, body), nil
}

// Unmarshal decodes one record. Unknown fields inside a message are
// skipped.
func Unmarshal(b []byte) (script.Msg, error) {
	var msg script.Msg
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(n, "envelope tag")
		}
		b = b[n:]
		if typ != protowire.BytesType {
			if n = protowire.ConsumeFieldValue(num, typ, b); n < 0 {
				return nil, malformed(n, "envelope field")
			}
			b = b[n:]
			continue
		}
		body, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, malformed(n, "envelope body")
		}
		b = b[n:]

		var err error
		switch num {
		case fieldFree:
			msg, err = unmarshalFree(body)
		case fieldExit:
			msg = script.Exit{}
		case fieldCleanDevice:
			msg, err = unmarshalCleanDevice(body)
		case fieldOpResult:
			msg, err = unmarshalOpResult(body)
		}
		if err != nil {
			return nil, err
		}
	}
	if msg == nil {
		return nil, ErrUnknownMessage
	}
	return msg, nil
}

func unmarshalFree(b []byte) (script.Msg, error) {
	var m script.Free
	err := fields(b, func(num protowire.Number, v uint64, _ []byte) {
		switch num {
		case 1:
			m.Kind = gpucore.Kind(v)
		case 2:
			m.ID = gpucore.RawID(v)
		}
	})
	return m, errors.WithMessage(err, "free")
}

func unmarshalCleanDevice(b []byte) (script.Msg, error) {
	var m script.CleanDevice
	err := fields(b, func(num protowire.Number, v uint64, _ []byte) {
		switch num {
		case 1:
			m.Device = gpucore.DeviceID(v)
		case 2:
			m.Pipeline = script.PipelineID(v)
		}
	})
	return m, errors.WithMessage(err, "clean device")
}

func unmarshalOpResult(b []byte) (script.Msg, error) {
	var m script.OpResult
	err := fields(b, func(num protowire.Number, v uint64, s []byte) {
		switch num {
		case 1:
			m.Device = gpucore.DeviceID(v)
		case 2:
			m.Scope = gpucore.ScopeID(v)
		case 3:
			m.Pipeline = script.PipelineID(v)
		case 4:
			m.Error = string(s)
		}
	})
	return m, errors.WithMessage(err, "op result")
}

// fields walks a message body. Scalar fields arrive in v, length-delimited
// ones in s. Groups are skipped.
func fields(b []byte, fn func(num protowire.Number, v uint64, s []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformed(n, "tag")
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return malformed(n, "varint")
			}
			fn(num, v, nil)
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return malformed(n, "fixed64")
			}
			fn(num, v, nil)
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return malformed(n, "fixed32")
			}
			fn(num, uint64(v), nil)
			b = b[n:]
		case protowire.BytesType:
			s, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return malformed(n, "bytes")
			}
			fn(num, 0, s)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return malformed(n, "field")
			}
			b = b[n:]
		}
	}
	return nil
}

func malformed(n int, what string) error {
	return errors.Wrapf(ErrMalformed, "%s: %v", what, protowire.ParseError(n))
}
