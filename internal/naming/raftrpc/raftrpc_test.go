package raftrpc

import (
	"errors"
	"testing"

	hraft "github.com/hashicorp/raft"

	"github.com/nacos-raft/naming-registry/internal/naming"
)

func TestRawCodecRoundTrip(t *testing.T) {
	c := rawCodec{}
	want := rawFrame("hello raft")
	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got rawFrame
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got = %q, want %q", got, want)
	}
}

func TestRawCodecRejectsWrongType(t *testing.T) {
	c := rawCodec{}
	if _, err := c.Marshal("not a rawFrame"); err == nil {
		t.Fatal("Marshal should reject a non-rawFrame value")
	}
	var notAPointerToFrame string
	if err := c.Unmarshal([]byte("x"), &notAPointerToFrame); err == nil {
		t.Fatal("Unmarshal should reject a non-*rawFrame destination")
	}
}

func TestEncodeDecodeProposeResultInstance(t *testing.T) {
	inst := &naming.Instance{
		IP: "10.0.0.1", Port: 8080, Namespace: "public", Group: "DEFAULT_GROUP",
		Service: "demo", ClusterName: "DEFAULT", Weight: 1, Enabled: true, Healthy: true,
	}
	frame := encodeProposeResult(inst, nil)
	got, err := decodeProposeResult(frame)
	if err != nil {
		t.Fatalf("decodeProposeResult failed: %v", err)
	}
	if got.IP != inst.IP || got.Port != inst.Port || got.Service != inst.Service {
		t.Fatalf("got = %+v, want fields matching %+v", got, inst)
	}
}

func TestEncodeDecodeProposeResultNone(t *testing.T) {
	frame := encodeProposeResult(nil, nil)
	got, err := decodeProposeResult(frame)
	if err != nil {
		t.Fatalf("decodeProposeResult failed: %v", err)
	}
	if got != nil {
		t.Fatalf("got = %v, want nil (remove has no instance)", got)
	}
}

func TestEncodeDecodeProposeResultError(t *testing.T) {
	frame := encodeProposeError(errors.New("not leader"))
	_, err := decodeProposeResult(frame)
	if err == nil {
		t.Fatal("decodeProposeResult should surface the encoded error")
	}
}

func TestDecodeProposeResultEmptyIsDecodeError(t *testing.T) {
	if _, err := decodeProposeResult(nil); err == nil {
		t.Fatal("decodeProposeResult should reject an empty frame")
	}
}

func TestJoinRequestRoundTrip(t *testing.T) {
	id := hraft.ServerID("2")
	addr := hraft.ServerAddress("127.0.0.1:8849")
	frame := encodeJoinRequest(id, addr)

	gotID, gotAddr, err := decodeJoinRequest(frame)
	if err != nil {
		t.Fatalf("decodeJoinRequest failed: %v", err)
	}
	if gotID != id || gotAddr != addr {
		t.Fatalf("got (%q, %q), want (%q, %q)", gotID, gotAddr, id, addr)
	}
}

func TestDecodeJoinRequestMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("no-space-here"),
		[]byte(" 127.0.0.1:8849"),
		[]byte("2 "),
	}
	for _, c := range cases {
		if _, _, err := decodeJoinRequest(c); err == nil {
			t.Fatalf("decodeJoinRequest(%q) should have failed", c)
		}
	}
}
