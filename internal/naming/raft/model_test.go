package raft

import (
	"testing"
)

func TestInstanceRegisterParamRoundTrip(t *testing.T) {
	p := &InstanceRegisterParam{
		IP:                 "10.0.0.5",
		Port:               8080,
		Weight:             2.5,
		Enabled:            true,
		Healthy:            true,
		Ephemeral:          false,
		Metadata:           map[string]string{"zone": "us-east", "version": "1.2"},
		Namespace:          "public",
		Group:              "DEFAULT_GROUP",
		Service:            "svcA",
		ClusterName:        "DEFAULT",
		AppName:            "app-a",
		LastModifiedMillis: 123456789,
	}
	data := p.Marshal()
	got, err := UnmarshalInstanceRegisterParam(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.IP != p.IP || got.Port != p.Port || got.Weight != p.Weight {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
	if got.Metadata["zone"] != "us-east" || got.Metadata["version"] != "1.2" {
		t.Fatalf("metadata round trip mismatch: got %+v", got.Metadata)
	}
	if got.LastModifiedMillis != p.LastModifiedMillis {
		t.Fatalf("LastModifiedMillis = %d, want %d", got.LastModifiedMillis, p.LastModifiedMillis)
	}
}

func TestInstanceRegisterParamMarshalDeterministic(t *testing.T) {
	p := &InstanceRegisterParam{
		IP:       "10.0.0.5",
		Port:     8080,
		Metadata: map[string]string{"z": "1", "a": "2", "m": "3"},
	}
	a := p.Marshal()
	b := p.Marshal()
	if string(a) != string(b) {
		t.Fatal("Marshal is not deterministic across repeated calls")
	}
}

func TestNamingRaftReqRegisterRoundTrip(t *testing.T) {
	req := &NamingRaftReq{
		Kind: ReqRegisterInstance,
		RegisterParam: &InstanceRegisterParam{
			IP: "10.0.0.1", Port: 9000, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcB",
			LastModifiedMillis: 42,
		},
	}
	data := req.Marshal()
	got, err := UnmarshalNamingRaftReq(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Kind != ReqRegisterInstance {
		t.Fatalf("Kind = %v, want ReqRegisterInstance", got.Kind)
	}
	if got.RegisterParam.IP != "10.0.0.1" || got.RegisterParam.LastModifiedMillis != 42 {
		t.Fatalf("RegisterParam round trip mismatch: %+v", got.RegisterParam)
	}
}

func TestNamingRaftReqRemoveRoundTrip(t *testing.T) {
	req := &NamingRaftReq{
		Kind: ReqRemoveInstance,
		RemoveKey: &RemoveKey{
			Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcB",
			IP: "10.0.0.1", Port: 9000, LastModifiedMillis: 99,
		},
	}
	data := req.Marshal()
	got, err := UnmarshalNamingRaftReq(data)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if got.Kind != ReqRemoveInstance {
		t.Fatalf("Kind = %v, want ReqRemoveInstance", got.Kind)
	}
	if got.RemoveKey.IP != "10.0.0.1" || got.RemoveKey.LastModifiedMillis != 99 {
		t.Fatalf("RemoveKey round trip mismatch: %+v", got.RemoveKey)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	p := &InstanceRegisterParam{IP: "10.0.0.9", Port: 1, Namespace: "public"}
	data := p.Marshal()
	// Append a bogus varint field (field 99, wire type 0) after the known
	// fields; the decoder must skip it rather than fail.
	data = append(data, 0x98, 0x06, 0x01)
	got, err := UnmarshalInstanceRegisterParam(data)
	if err != nil {
		t.Fatalf("Unmarshal with trailing unknown field failed: %v", err)
	}
	if got.IP != "10.0.0.9" {
		t.Fatalf("IP = %q, want 10.0.0.9", got.IP)
	}
}
