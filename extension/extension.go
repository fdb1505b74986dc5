// Package extension decodes the optional byte slots attached to a general order
// and dispatches the external calls they describe.
package extension

import (
	"errors"
	"fmt"
	"math/big"
)

// Extension errors
var (
	ErrOffsetsOutOfOrder = errors.New("extension offsets out of order")
	ErrOffsetsLength     = errors.New("extension offsets do not match interactions length")
	ErrOffsetsOverflow   = errors.New("extension offsets overflow")
)

// Slot names one of the eight optional byte ranges of an order.
type Slot uint8

const (
	SlotMakerAssetData Slot = iota
	SlotTakerAssetData
	SlotMakingAmountGetter
	SlotTakingAmountGetter
	SlotPredicate
	SlotPermit
	SlotPreInteraction
	SlotPostInteraction

	// SlotCount is the number of slots.
	SlotCount
)

const offsetBits = 32

var slotNames = [SlotCount]string{
	"makerAssetData",
	"takerAssetData",
	"makingAmountGetter",
	"takingAmountGetter",
	"predicate",
	"permit",
	"preInteraction",
	"postInteraction",
}

func (s Slot) String() string {
	if s < SlotCount {
		return slotNames[s]
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// Extension holds the decoded slots of an order. The zero value has every slot empty.
type Extension struct {
	slots [SlotCount][]byte
}

// New creates an extension from the given slot contents.
func New(slots map[Slot][]byte) *Extension {
	e := &Extension{}
	for s, data := range slots {
		if s < SlotCount && len(data) > 0 {
			e.slots[s] = append([]byte(nil), data...)
		}
	}
	return e
}

// Get returns the bytes of slot s, nil when empty.
func (e *Extension) Get(s Slot) []byte {
	if e == nil || s >= SlotCount {
		return nil
	}
	return e.slots[s]
}

// Has reports whether slot s is non-empty.
func (e *Extension) Has(s Slot) bool {
	return len(e.Get(s)) > 0
}

// With returns a copy of e with slot s replaced.
func (e *Extension) With(s Slot, data []byte) *Extension {
	out := &Extension{}
	if e != nil {
		out.slots = e.slots
	}
	if s < SlotCount {
		out.slots[s] = append([]byte(nil), data...)
	}
	return out
}

// Encode produces the offsets word and the concatenated interactions blob.
// Slot i ends at the byte offset stored in bits [32i, 32i+32) of the offsets word.
func (e *Extension) Encode() (*big.Int, []byte) {
	offsets := new(big.Int)
	var blob []byte
	for i := Slot(0); i < SlotCount; i++ {
		blob = append(blob, e.Get(i)...)
		end := new(big.Int).SetUint64(uint64(len(blob)))
		offsets.Or(offsets, end.Lsh(end, uint(i)*offsetBits))
	}
	return offsets, blob
}

// Decode splits the interactions blob into slots using the packed end offsets.
// Offsets must be non-decreasing and the last one must equal len(blob).
func Decode(offsets *big.Int, blob []byte) (*Extension, error) {
	if offsets == nil {
		offsets = new(big.Int)
	}
	if offsets.Sign() < 0 || offsets.BitLen() > int(SlotCount)*offsetBits {
		return nil, ErrOffsetsOverflow
	}

	e := &Extension{}
	mask := new(big.Int).SetUint64(1<<offsetBits - 1)
	var start uint64
	for i := Slot(0); i < SlotCount; i++ {
		word := new(big.Int).Rsh(offsets, uint(i)*offsetBits)
		end := word.And(word, mask).Uint64()
		if end < start {
			return nil, fmt.Errorf("%w: %s ends at %d before %d", ErrOffsetsOutOfOrder, i, end, start)
		}
		if end > uint64(len(blob)) {
			return nil, fmt.Errorf("%w: %s ends at %d past %d", ErrOffsetsLength, i, end, len(blob))
		}
		if end > start {
			e.slots[i] = blob[start:end]
		}
		start = end
	}
	if start != uint64(len(blob)) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrOffsetsLength, uint64(len(blob))-start)
	}
	return e, nil
}
