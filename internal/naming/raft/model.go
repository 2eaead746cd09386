// Package raft implements the Raft command interface: the tagged-union
// wire envelope for perpetual-instance mutations (NamingRaftReq), the
// hashicorp/raft FSM that applies committed entries to the registry, and
// the driver that wraps *raft.Raft for proposing new entries.
package raft

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/nacos-raft/naming-registry/internal/naming"
)

func float32bits(f float32) uint32     { return math.Float32bits(f) }
func float32frombits(b uint32) float32 { return math.Float32frombits(b) }

// Field numbers are fixed for cross-version wire compatibility
// (spec.md §6).
const (
	fieldParamIP                 = 1
	fieldParamPort               = 2
	fieldParamWeight             = 3
	fieldParamEnabled            = 4
	fieldParamHealthy            = 5
	fieldParamEphemeral          = 6
	fieldParamMetadataEntry      = 7
	fieldParamNamespace          = 8
	fieldParamGroup              = 9
	fieldParamService            = 10
	fieldParamClusterName        = 11
	fieldParamAppName            = 12
	fieldParamLastModifiedMillis = 13

	fieldMetadataEntryKey   = 1
	fieldMetadataEntryValue = 2

	fieldReqKind          = 1
	fieldReqRegisterParam = 2
	fieldReqRemoveKey     = 3

	fieldKeyNamespace          = 1
	fieldKeyGroup              = 2
	fieldKeyService            = 3
	fieldKeyIP                 = 4
	fieldKeyPort               = 5
	fieldKeyLastModifiedMillis = 6
)

// ReqKind identifies which mutation a NamingRaftReq carries.
type ReqKind int

const (
	ReqRegisterInstance ReqKind = iota
	ReqUpdateInstance
	ReqRemoveInstance
)

// InstanceRegisterParam is the self-contained, serializable description
// of a perpetual instance mutation: it both travels inside a
// NamingRaftReq and stands alone as a snapshot record
// (internal/naming/snapshot).
type InstanceRegisterParam struct {
	IP                 string
	Port               uint16
	Weight             float32
	Enabled            bool
	Healthy            bool
	Ephemeral          bool
	Metadata           map[string]string
	Namespace          string
	Group              string
	Service            string
	ClusterName        string
	AppName            string
	LastModifiedMillis uint64
}

// ToInstance converts the param into a naming.Instance.
func (p *InstanceRegisterParam) ToInstance() *naming.Instance {
	weight := p.Weight
	if weight == 0 {
		weight = 1.0
	}
	clusterName := p.ClusterName
	if clusterName == "" {
		clusterName = naming.DefaultClusterName
	}
	return &naming.Instance{
		IP:                 p.IP,
		Port:               p.Port,
		ClusterName:        clusterName,
		AppName:            p.AppName,
		Namespace:          p.Namespace,
		Group:              p.Group,
		Service:            p.Service,
		Weight:             weight,
		Enabled:            p.Enabled,
		Healthy:            p.Healthy,
		Ephemeral:          p.Ephemeral,
		Metadata:           p.Metadata,
		LastModifiedMillis: p.LastModifiedMillis,
	}
}

// InstanceRegisterParamFromInstance builds a param from inst, e.g. during
// snapshot build.
func InstanceRegisterParamFromInstance(inst *naming.Instance) *InstanceRegisterParam {
	return &InstanceRegisterParam{
		IP:                 inst.IP,
		Port:               inst.Port,
		Weight:             inst.Weight,
		Enabled:            inst.Enabled,
		Healthy:            inst.Healthy,
		Ephemeral:          inst.Ephemeral,
		Metadata:           inst.Metadata,
		Namespace:          inst.Namespace,
		Group:              inst.Group,
		Service:            inst.Service,
		ClusterName:        inst.ClusterName,
		AppName:            inst.AppName,
		LastModifiedMillis: inst.LastModifiedMillis,
	}
}

// Marshal serializes p deterministically: metadata entries are written in
// sorted-key order so that two calls over equal maps yield byte-identical
// output (spec.md §6, P2).
func (p *InstanceRegisterParam) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldParamIP, protowire.BytesType)
	b = protowire.AppendString(b, p.IP)
	b = protowire.AppendTag(b, fieldParamPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Port))
	b = protowire.AppendTag(b, fieldParamWeight, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, float32bits(p.Weight))
	b = protowire.AppendTag(b, fieldParamEnabled, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(p.Enabled))
	b = protowire.AppendTag(b, fieldParamHealthy, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(p.Healthy))
	b = protowire.AppendTag(b, fieldParamEphemeral, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(p.Ephemeral))

	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := marshalMetadataEntry(k, p.Metadata[k])
		b = protowire.AppendTag(b, fieldParamMetadataEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	b = protowire.AppendTag(b, fieldParamNamespace, protowire.BytesType)
	b = protowire.AppendString(b, p.Namespace)
	b = protowire.AppendTag(b, fieldParamGroup, protowire.BytesType)
	b = protowire.AppendString(b, p.Group)
	b = protowire.AppendTag(b, fieldParamService, protowire.BytesType)
	b = protowire.AppendString(b, p.Service)
	b = protowire.AppendTag(b, fieldParamClusterName, protowire.BytesType)
	b = protowire.AppendString(b, p.ClusterName)
	b = protowire.AppendTag(b, fieldParamAppName, protowire.BytesType)
	b = protowire.AppendString(b, p.AppName)
	b = protowire.AppendTag(b, fieldParamLastModifiedMillis, protowire.VarintType)
	b = protowire.AppendVarint(b, p.LastModifiedMillis)
	return b
}

func marshalMetadataEntry(key, value string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMetadataEntryKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, fieldMetadataEntryValue, protowire.BytesType)
	b = protowire.AppendString(b, value)
	return b
}

// UnmarshalInstanceRegisterParam decodes a record produced by Marshal.
// Unknown field numbers are skipped, so a newer writer's extra fields
// don't break an older reader (forward compatibility).
func UnmarshalInstanceRegisterParam(data []byte) (*InstanceRegisterParam, error) {
	p := &InstanceRegisterParam{Metadata: make(map[string]string)}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, naming.NewError(naming.KindDecodeError, "UnmarshalInstanceRegisterParam", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldParamIP:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			p.IP = v
			data = data[n:]
		case fieldParamPort:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.Port = uint16(v)
			data = data[n:]
		case fieldParamWeight:
			if typ != protowire.Fixed32Type {
				return nil, naming.NewError(naming.KindDecodeError, "UnmarshalInstanceRegisterParam", fmt.Errorf("unexpected wire type %v for weight", typ))
			}
			fv, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return nil, naming.NewError(naming.KindDecodeError, "UnmarshalInstanceRegisterParam", protowire.ParseError(n))
			}
			p.Weight = float32frombits(fv)
			data = data[n:]
		case fieldParamEnabled:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.Enabled = v != 0
			data = data[n:]
		case fieldParamHealthy:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.Healthy = v != 0
			data = data[n:]
		case fieldParamEphemeral:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.Ephemeral = v != 0
			data = data[n:]
		case fieldParamMetadataEntry:
			raw, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			k, v, err := unmarshalMetadataEntry(raw)
			if err != nil {
				return nil, err
			}
			p.Metadata[k] = v
			data = data[n:]
		case fieldParamNamespace:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			p.Namespace = v
			data = data[n:]
		case fieldParamGroup:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			p.Group = v
			data = data[n:]
		case fieldParamService:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			p.Service = v
			data = data[n:]
		case fieldParamClusterName:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			p.ClusterName = v
			data = data[n:]
		case fieldParamAppName:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			p.AppName = v
			data = data[n:]
		case fieldParamLastModifiedMillis:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			p.LastModifiedMillis = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, naming.NewError(naming.KindDecodeError, "UnmarshalInstanceRegisterParam", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return p, nil
}

func unmarshalMetadataEntry(data []byte) (string, string, error) {
	var key, value string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", naming.NewError(naming.KindDecodeError, "unmarshalMetadataEntry", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldMetadataEntryKey:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", "", err
			}
			key = v
			data = data[n:]
		case fieldMetadataEntryValue:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", "", err
			}
			value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", naming.NewError(naming.KindDecodeError, "unmarshalMetadataEntry", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return key, value, nil
}

// NamingRaftReq is the Raft log's tagged-union request envelope.
type NamingRaftReq struct {
	Kind          ReqKind
	RegisterParam *InstanceRegisterParam // set for ReqRegisterInstance/ReqUpdateInstance
	RemoveKey     *RemoveKey             // set for ReqRemoveInstance
}

// RemoveKey identifies the instance a ReqRemoveInstance targets, plus its
// LastModifiedMillis stamp. The registry's remove apply path does not
// compare the stamp: removing an absent instance is already a no-op.
type RemoveKey struct {
	Namespace          string
	Group              string
	Service            string
	IP                 string
	Port               uint16
	LastModifiedMillis uint64
}

// InstanceKey converts k into a naming.InstanceKey.
func (k *RemoveKey) InstanceKey() naming.InstanceKey {
	return naming.InstanceKey{
		ServiceKey:       naming.ServiceKey{Namespace: k.Namespace, Group: k.Group, Service: k.Service},
		InstanceShortKey: naming.InstanceShortKey{IP: k.IP, Port: k.Port},
	}
}

// Marshal serializes req deterministically.
func (req *NamingRaftReq) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReqKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(req.Kind))

	switch req.Kind {
	case ReqRegisterInstance, ReqUpdateInstance:
		b = protowire.AppendTag(b, fieldReqRegisterParam, protowire.BytesType)
		b = protowire.AppendBytes(b, req.RegisterParam.Marshal())
	case ReqRemoveInstance:
		b = protowire.AppendTag(b, fieldReqRemoveKey, protowire.BytesType)
		b = protowire.AppendBytes(b, req.RemoveKey.marshal())
	}
	return b
}

func (k *RemoveKey) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldKeyNamespace, protowire.BytesType)
	b = protowire.AppendString(b, k.Namespace)
	b = protowire.AppendTag(b, fieldKeyGroup, protowire.BytesType)
	b = protowire.AppendString(b, k.Group)
	b = protowire.AppendTag(b, fieldKeyService, protowire.BytesType)
	b = protowire.AppendString(b, k.Service)
	b = protowire.AppendTag(b, fieldKeyIP, protowire.BytesType)
	b = protowire.AppendString(b, k.IP)
	b = protowire.AppendTag(b, fieldKeyPort, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(k.Port))
	b = protowire.AppendTag(b, fieldKeyLastModifiedMillis, protowire.VarintType)
	b = protowire.AppendVarint(b, k.LastModifiedMillis)
	return b
}

func unmarshalRemoveKey(data []byte) (*RemoveKey, error) {
	k := &RemoveKey{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, naming.NewError(naming.KindDecodeError, "unmarshalRemoveKey", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldKeyNamespace:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.Namespace = v
			data = data[n:]
		case fieldKeyGroup:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.Group = v
			data = data[n:]
		case fieldKeyService:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.Service = v
			data = data[n:]
		case fieldKeyIP:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			k.IP = v
			data = data[n:]
		case fieldKeyPort:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			k.Port = uint16(v)
			data = data[n:]
		case fieldKeyLastModifiedMillis:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			k.LastModifiedMillis = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, naming.NewError(naming.KindDecodeError, "unmarshalRemoveKey", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return k, nil
}

// UnmarshalNamingRaftReq decodes the canonical (current-generation) wire
// shape. Callers reading a Raft log that may carry legacy entries should
// go through LegacyDecoder instead (legacy.go).
func UnmarshalNamingRaftReq(data []byte) (*NamingRaftReq, error) {
	req := &NamingRaftReq{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, naming.NewError(naming.KindDecodeError, "UnmarshalNamingRaftReq", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldReqKind:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			req.Kind = ReqKind(v)
			data = data[n:]
		case fieldReqRegisterParam:
			raw, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			p, err := UnmarshalInstanceRegisterParam(raw)
			if err != nil {
				return nil, err
			}
			req.RegisterParam = p
			data = data[n:]
		case fieldReqRemoveKey:
			raw, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			k, err := unmarshalRemoveKey(raw)
			if err != nil {
				return nil, err
			}
			req.RemoveKey = k
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, naming.NewError(naming.KindDecodeError, "UnmarshalNamingRaftReq", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return req, nil
}

func consumeString(data []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, naming.NewError(naming.KindDecodeError, "consumeString", fmt.Errorf("unexpected wire type %v", typ))
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, naming.NewError(naming.KindDecodeError, "consumeString", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, naming.NewError(naming.KindDecodeError, "consumeBytes", fmt.Errorf("unexpected wire type %v", typ))
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, naming.NewError(naming.KindDecodeError, "consumeBytes", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, naming.NewError(naming.KindDecodeError, "consumeVarint", fmt.Errorf("unexpected wire type %v", typ))
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, naming.NewError(naming.KindDecodeError, "consumeVarint", protowire.ParseError(n))
	}
	return v, n, nil
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
