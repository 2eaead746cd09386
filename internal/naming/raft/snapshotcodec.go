package raft

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/nacos-raft/naming-registry/internal/naming"
)

// EncodeSnapshotStream writes instances as a stream of
// uvarint-length-prefixed InstanceRegisterParam records. Both the Raft
// FSM snapshot (fsm.go) and internal/naming/snapshot's on-disk export use
// this framing, so a Raft snapshot and a manual backup are
// byte-compatible.
func EncodeSnapshotStream(w io.Writer, instances []*naming.Instance) error {
	bw := bufio.NewWriter(w)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, inst := range instances {
		rec := InstanceRegisterParamFromInstance(inst).Marshal()
		n := binary.PutUvarint(lenBuf[:], uint64(len(rec)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return naming.NewError(naming.KindEncodeError, "EncodeSnapshotStream", err)
		}
		if _, err := bw.Write(rec); err != nil {
			return naming.NewError(naming.KindEncodeError, "EncodeSnapshotStream", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return naming.NewError(naming.KindEncodeError, "EncodeSnapshotStream", err)
	}
	return nil
}

// DecodeSnapshotStream reads a stream written by EncodeSnapshotStream,
// returning every record in order. A truncated final record is reported
// as a decode error rather than silently dropped.
func DecodeSnapshotStream(r io.Reader) ([]*InstanceRegisterParam, error) {
	br := bufio.NewReader(r)
	var records []*InstanceRegisterParam
	for {
		length, err := binary.ReadUvarint(br)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, naming.NewError(naming.KindDecodeError, "DecodeSnapshotStream", err)
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, naming.NewError(naming.KindDecodeError, "DecodeSnapshotStream", err)
		}
		rec, err := UnmarshalInstanceRegisterParam(buf)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

func encodeSnapshotStream(w io.Writer, instances []*naming.Instance) error {
	return EncodeSnapshotStream(w, instances)
}

func decodeSnapshotStream(r io.Reader) ([]*InstanceRegisterParam, error) {
	return DecodeSnapshotStream(r)
}
