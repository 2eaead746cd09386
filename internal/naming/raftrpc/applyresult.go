package raftrpc

import (
	"github.com/nacos-raft/naming-registry/internal/naming"
	"github.com/nacos-raft/naming-registry/internal/naming/raft"
)

// Propose's response is a tiny tagged envelope: a single kind byte
// followed by the payload. ok-with-instance carries a marshaled
// InstanceRegisterParam (register/update); ok-without-instance (remove)
// carries nothing; err carries the error message as UTF-8 bytes.
const (
	resultKindInstance byte = iota
	resultKindNone
	resultKindError
)

func encodeProposeResult(inst *naming.Instance, err error) rawFrame {
	if err != nil {
		return append([]byte{resultKindError}, []byte(err.Error())...)
	}
	if inst == nil {
		return rawFrame{resultKindNone}
	}
	rec := raft.InstanceRegisterParamFromInstance(inst).Marshal()
	return append([]byte{resultKindInstance}, rec...)
}

func encodeProposeError(err error) rawFrame {
	return encodeProposeResult(nil, err)
}

// decodeProposeResult is the client side of encodeProposeResult.
func decodeProposeResult(data []byte) (*naming.Instance, error) {
	if len(data) == 0 {
		return nil, naming.NewError(naming.KindDecodeError, "decodeProposeResult", nil)
	}
	switch data[0] {
	case resultKindNone:
		return nil, nil
	case resultKindError:
		return nil, naming.NewError(naming.KindUnavailable, "Propose", errString(data[1:]))
	case resultKindInstance:
		param, err := raft.UnmarshalInstanceRegisterParam(data[1:])
		if err != nil {
			return nil, err
		}
		return param.ToInstance(), nil
	default:
		return nil, naming.NewError(naming.KindDecodeError, "decodeProposeResult", nil)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
