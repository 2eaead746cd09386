package raft

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nacos-raft/naming-registry/internal/naming"
)

// Legacy field numbers for the loose five-field RemoveInstance shape
// spec.md §9 names as one of the source's three divergent envelope
// definitions: the removal target travels as flat namespace/group/
// service/ip/port fields directly on the envelope instead of a nested
// RemoveKey submessage at fieldReqRemoveKey.
const (
	legacyFieldNamespace = 20
	legacyFieldGroup     = 21
	legacyFieldService   = 22
	legacyFieldIP        = 23
	legacyFieldPort      = 24
)

// LegacyDecoder normalizes any of the three divergent NamingRaftReq wire
// shapes spec.md §9 describes into the canonical struct (reference-style
// interned strings, explicit InstanceKey for removal, explicit
// last_modified_millis), so a Raft log carrying entries written by an
// older cluster generation still applies cleanly.
type LegacyDecoder struct{}

// NewLegacyDecoder constructs a LegacyDecoder. It is stateless; one
// instance is safe to share across every FSM.Apply call.
func NewLegacyDecoder() *LegacyDecoder { return &LegacyDecoder{} }

// Decode parses data as the canonical shape first. A RemoveInstance
// request whose nested RemoveKey submessage is absent is assumed to be
// the legacy flat-field variant, and is re-scanned for the loose
// namespace/group/service/ip/port fields instead.
//
// Neither shape is required to carry last_modified_millis (the other
// legacy variant omits it from register/update records entirely); when
// absent it decodes as zero here, and FSM.Apply stamps it from the
// commit index, which is itself deterministic and strictly increasing
// across every replica.
func (d *LegacyDecoder) Decode(data []byte) (*NamingRaftReq, error) {
	req, err := UnmarshalNamingRaftReq(data)
	if err != nil {
		return nil, err
	}
	if req.Kind == ReqRemoveInstance && req.RemoveKey == nil {
		legacy, err := decodeLegacyFlatRemove(data)
		if err != nil {
			return nil, err
		}
		req.RemoveKey = legacy
	}
	return req, nil
}

func decodeLegacyFlatRemove(data []byte) (*RemoveKey, error) {
	k := &RemoveKey{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, naming.NewError(naming.KindDecodeError, "decodeLegacyFlatRemove", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case legacyFieldNamespace:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.Namespace = v
			data = data[n:]
		case legacyFieldGroup:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.Group = v
			data = data[n:]
		case legacyFieldService:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.Service = v
			data = data[n:]
		case legacyFieldIP:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.IP = v
			data = data[n:]
		case legacyFieldPort:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			k.Port = uint16(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, naming.NewError(naming.KindDecodeError, "decodeLegacyFlatRemove", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	if k.Namespace == "" && k.Group == "" && k.Service == "" && k.IP == "" {
		return nil, naming.NewError(naming.KindDecodeError, "decodeLegacyFlatRemove", fmt.Errorf("no legacy removal fields present in entry"))
	}
	return k, nil
}
