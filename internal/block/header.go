// Package block defines the Data Block Header embedded at the front of
// every page and the slicer key derived from it. The Data Set type that
// groups page references into ordered slices lives in pagepool.
package block

import "unsafe"

// Sentinel "undefined" values.
const (
	UndefinedID8  uint8  = 0xFF
	UndefinedID16 uint16 = 0xFFFF
	UndefinedID32 uint32 = 0
)

// TypeTag identifies the kind of payload a block carries.
type TypeTag uint16

const (
	TypeRaw     TypeTag = 0
	TypeRDH     TypeTag = 1
	TypeControl TypeTag = 2
)

// Header is the Data Block Header, carried through the pipeline
// at the front of every page. The in-page byte layout is fixed by
// Encode/Decode, field by field, not by this struct's memory layout.
type Header struct {
	BlockType      TypeTag
	HeaderSize     uint16
	PayloadSize    uint32
	BlockID        uint64 // monotonic, assigned by the equipment
	PipelineID     uint8
	TimeframeID    uint32
	SystemID       uint8
	FeeID          uint16
	EquipmentID    uint16
	LinkID         uint8
	FirstOrbit     uint32 // first orbit of the enclosing timeframe
	LastOrbit      uint32 // last orbit of the enclosing timeframe
	EndOfTimeframe bool
	IsRDHFormat    bool
	RunNumber      uint32
}

// HeaderSizeBytes is the reserved header area at the front of every page.
const HeaderSizeBytes = int(unsafe.Sizeof(Header{}))

// Default returns a Header with every id set to its "undefined" sentinel,
// as the zero-value defaults.
func Default() Header {
	return Header{
		BlockType:   TypeRaw,
		HeaderSize:  uint16(HeaderSizeBytes),
		PipelineID:  UndefinedID8,
		TimeframeID: UndefinedID32,
		SystemID:    UndefinedID8,
		FeeID:       UndefinedID16,
		EquipmentID: UndefinedID16,
		LinkID:      UndefinedID8,
	}
}

// IsUndefinedTimeframe reports whether id is the "undefined" timeframe
// sentinel used by the slicer and timeframe buffer.
func IsUndefinedTimeframe(id uint32) bool {
	return id == UndefinedID32
}

// IsUndefinedLink reports whether id is the "undefined" link sentinel; the
// slicer groups all undefined-link traffic from an equipment into a
// single slice per timeframe.
func IsUndefinedLink(id uint8) bool {
	return id == UndefinedID8
}

// MaxValidLinkID is the highest link id the slicer accepts; link ids
// above this are rejected as invalid. The CRU's link field is 5 bits
// wide, so 31 is the largest representable value.
const MaxValidLinkID = 31
