// Package user implements the UserDo record persisted by the external
// user/role store and the namespace-privilege derivation the registry
// consults at its namespace-access boundary. The registry never writes
// this record; it only reads namespace privileges out of one that some
// external admin surface produced.
package user

import (
	"fmt"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers are fixed for cross-version wire compatibility
// (spec.md §6).
const (
	fieldUsername                = 1
	fieldPassword                = 2
	fieldNickname                = 3
	fieldGmtCreate               = 4
	fieldGmtModified             = 5
	fieldEnable                  = 6
	fieldRoles                   = 7
	fieldExtendInfoEntry         = 8
	fieldPasswordHash            = 9
	fieldNamespacePrivilegeFlags = 10
	fieldNamespaceWhiteList      = 11
	fieldNamespaceBlackList      = 12

	fieldExtendInfoEntryKey   = 1
	fieldExtendInfoEntryValue = 2
)

// UserDo is the length-prefixed, field-numbered user record (spec.md §6).
// PasswordHash and NamespacePrivilegeFlags are proto3 "optional" scalars,
// so they're represented as pointers: nil means absent, not zero-valued.
type UserDo struct {
	Username                string
	Password                string
	Nickname                string
	GmtCreate               uint32
	GmtModified             uint32
	Enable                  bool
	Roles                   []string
	ExtendInfo              map[string]string
	PasswordHash            *string
	NamespacePrivilegeFlags *uint32
	NamespaceWhiteList      []string
	NamespaceBlackList      []string

	// unknown holds raw tag+value bytes for any field number this
	// version doesn't recognize, so a round trip through an older
	// reader doesn't silently drop a newer writer's data.
	unknown []byte
}

// MarshalRecord serializes u deterministically: ExtendInfo entries are
// written in sorted-key order so two calls over an equal map produce
// byte-identical output.
func (u *UserDo) MarshalRecord() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldUsername, protowire.BytesType)
	b = protowire.AppendString(b, u.Username)
	b = protowire.AppendTag(b, fieldPassword, protowire.BytesType)
	b = protowire.AppendString(b, u.Password)
	b = protowire.AppendTag(b, fieldNickname, protowire.BytesType)
	b = protowire.AppendString(b, u.Nickname)
	b = protowire.AppendTag(b, fieldGmtCreate, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(u.GmtCreate))
	b = protowire.AppendTag(b, fieldGmtModified, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(u.GmtModified))
	b = protowire.AppendTag(b, fieldEnable, protowire.VarintType)
	b = protowire.AppendVarint(b, boolVarint(u.Enable))

	for _, role := range u.Roles {
		b = protowire.AppendTag(b, fieldRoles, protowire.BytesType)
		b = protowire.AppendString(b, role)
	}

	keys := make([]string, 0, len(u.ExtendInfo))
	for k := range u.ExtendInfo {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		entry := marshalMapEntry(k, u.ExtendInfo[k])
		b = protowire.AppendTag(b, fieldExtendInfoEntry, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	if u.PasswordHash != nil {
		b = protowire.AppendTag(b, fieldPasswordHash, protowire.BytesType)
		b = protowire.AppendString(b, *u.PasswordHash)
	}
	if u.NamespacePrivilegeFlags != nil {
		b = protowire.AppendTag(b, fieldNamespacePrivilegeFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*u.NamespacePrivilegeFlags))
	}
	for _, ns := range u.NamespaceWhiteList {
		b = protowire.AppendTag(b, fieldNamespaceWhiteList, protowire.BytesType)
		b = protowire.AppendString(b, ns)
	}
	for _, ns := range u.NamespaceBlackList {
		b = protowire.AppendTag(b, fieldNamespaceBlackList, protowire.BytesType)
		b = protowire.AppendString(b, ns)
	}

	b = append(b, u.unknown...)
	return b
}

func marshalMapEntry(key, value string) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldExtendInfoEntryKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, fieldExtendInfoEntryValue, protowire.BytesType)
	b = protowire.AppendString(b, value)
	return b
}

// UnmarshalRecord decodes a record produced by MarshalRecord. Any field
// number outside 1-12 is preserved verbatim (tag bytes included) in an
// unexported buffer and re-emitted by a later MarshalRecord call, so a
// record written by a newer version round-trips through this one intact.
func UnmarshalRecord(data []byte) (*UserDo, error) {
	u := &UserDo{ExtendInfo: make(map[string]string)}
	for len(data) > 0 {
		start := data
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, NewError(KindDecodeError, "UnmarshalRecord", protowire.ParseError(n))
		}
		tagLen := n
		data = data[n:]
		switch num {
		case fieldUsername:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.Username = v
			data = data[n:]
		case fieldPassword:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.Password = v
			data = data[n:]
		case fieldNickname:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.Nickname = v
			data = data[n:]
		case fieldGmtCreate:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			u.GmtCreate = uint32(v)
			data = data[n:]
		case fieldGmtModified:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			u.GmtModified = uint32(v)
			data = data[n:]
		case fieldEnable:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			u.Enable = v != 0
			data = data[n:]
		case fieldRoles:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.Roles = append(u.Roles, v)
			data = data[n:]
		case fieldExtendInfoEntry:
			raw, n, err := consumeBytes(data, typ)
			if err != nil {
				return nil, err
			}
			k, v, err := unmarshalMapEntry(raw)
			if err != nil {
				return nil, err
			}
			u.ExtendInfo[k] = v
			data = data[n:]
		case fieldPasswordHash:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.PasswordHash = &v
			data = data[n:]
		case fieldNamespacePrivilegeFlags:
			v, n, err := consumeVarint(data, typ)
			if err != nil {
				return nil, err
			}
			flags := uint32(v)
			u.NamespacePrivilegeFlags = &flags
			data = data[n:]
		case fieldNamespaceWhiteList:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.NamespaceWhiteList = append(u.NamespaceWhiteList, v)
			data = data[n:]
		case fieldNamespaceBlackList:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return nil, err
			}
			u.NamespaceBlackList = append(u.NamespaceBlackList, v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, NewError(KindDecodeError, "UnmarshalRecord", protowire.ParseError(n))
			}
			u.unknown = append(u.unknown, start[:tagLen+n]...)
			data = data[n:]
		}
	}
	return u, nil
}

func unmarshalMapEntry(data []byte) (string, string, error) {
	var key, value string
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", "", NewError(KindDecodeError, "unmarshalMapEntry", protowire.ParseError(n))
		}
		data = data[n:]
		switch num {
		case fieldExtendInfoEntryKey:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", "", err
			}
			key = v
			data = data[n:]
		case fieldExtendInfoEntryValue:
			v, n, err := consumeString(data, typ)
			if err != nil {
				return "", "", err
			}
			value = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", "", NewError(KindDecodeError, "unmarshalMapEntry", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return key, value, nil
}

func consumeString(data []byte, typ protowire.Type) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, NewError(KindDecodeError, "consumeString", fmt.Errorf("unexpected wire type %v", typ))
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, NewError(KindDecodeError, "consumeString", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeBytes(data []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, NewError(KindDecodeError, "consumeBytes", fmt.Errorf("unexpected wire type %v", typ))
	}
	v, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, NewError(KindDecodeError, "consumeBytes", protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeVarint(data []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, NewError(KindDecodeError, "consumeVarint", fmt.Errorf("unexpected wire type %v", typ))
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, NewError(KindDecodeError, "consumeVarint", protowire.ParseError(n))
	}
	return v, n, nil
}

func boolVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
