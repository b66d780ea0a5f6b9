// Package wire serializes machine crash dumps for external tooling.
// Snapshots travel as canonical CBOR so two captures of the same state
// are byte-identical.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/secd/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a register snapshot to CBOR bytes.
func MarshalSnapshot(s *vm.Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a register snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*vm.Snapshot, error) {
	var s vm.Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("wire: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
