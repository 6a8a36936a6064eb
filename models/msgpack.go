package models

import (
	"fmt"

	"github.com/rohanthewiz/serr"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshotFormatVersion is bumped whenever Snapshot changes incompatibly.
const snapshotFormatVersion = 1

type snapshotEnvelope struct {
	Format   int      `msgpack:"format"`
	Snapshot Snapshot `msgpack:"snapshot"`
}

// EncodeSnapshotMsgPack serializes a snapshot for a backup file.
// msgpack keeps large content bodies compact compared to JSON.
func EncodeSnapshotMsgPack(s *Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(snapshotEnvelope{Format: snapshotFormatVersion, Snapshot: *s})
	if err != nil {
		return nil, serr.Wrap(err, "failed to msgpack encode snapshot")
	}
	return b, nil
}

// DecodeSnapshotMsgPack is the inverse of EncodeSnapshotMsgPack.
func DecodeSnapshotMsgPack(b []byte) (*Snapshot, error) {
	var env snapshotEnvelope
	if err := msgpack.Unmarshal(b, &env); err != nil {
		return nil, serr.Wrap(err, "failed to unmarshal msgpack snapshot")
	}
	if env.Format != snapshotFormatVersion {
		return nil, serr.New(fmt.Sprintf("unsupported snapshot format %d", env.Format))
	}
	return &env.Snapshot, nil
}
