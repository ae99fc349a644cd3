// Package wire holds the CBOR encoding shared by the RPC codec and the run
// journal.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/maxstrauch/theia/vm"
)

// encMode uses canonical mode for deterministic encoding.
var encMode cbor.EncMode

// decMode rejects duplicate map keys.
var decMode cbor.DecMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// MarshalCells serializes a register snapshot.
func MarshalCells(cells []vm.Cell) ([]byte, error) {
	if cells == nil {
		cells = []vm.Cell{}
	}
	return encMode.Marshal(cells)
}

// UnmarshalCells deserializes a register snapshot.
func UnmarshalCells(data []byte) ([]vm.Cell, error) {
	var cells []vm.Cell
	if err := decMode.Unmarshal(data, &cells); err != nil {
		return nil, fmt.Errorf("wire: unmarshal cells: %w", err)
	}
	return cells, nil
}
