package block

import "encoding/binary"

// EncodedSize is the wire size of an encoded Header, field-by-field, as
// opposed to HeaderSizeBytes which additionally reflects Go struct
// padding. Pages reserve HeaderSizeBytes; Encode/Decode only ever touch
// the first EncodedSize bytes of that reservation.
const EncodedSize = 2 + 2 + 4 + 8 + 1 + 4 + 1 + 2 + 2 + 1 + 4 + 4 + 1 + 1 + 4

// Encode serializes h into buf using native (little-endian) byte order,
// field by field rather than unsafe struct aliasing: the pipeline crosses
// goroutine and (eventually) process boundaries via the Stats bus, so
// the wire layout must be independent of Go struct padding.
func Encode(buf []byte, h Header) {
	_ = buf[:EncodedSize]
	binary.LittleEndian.PutUint16(buf[0:2], uint16(h.BlockType))
	binary.LittleEndian.PutUint16(buf[2:4], h.HeaderSize)
	binary.LittleEndian.PutUint32(buf[4:8], h.PayloadSize)
	binary.LittleEndian.PutUint64(buf[8:16], h.BlockID)
	buf[16] = h.PipelineID
	binary.LittleEndian.PutUint32(buf[17:21], h.TimeframeID)
	buf[21] = h.SystemID
	binary.LittleEndian.PutUint16(buf[22:24], h.FeeID)
	binary.LittleEndian.PutUint16(buf[24:26], h.EquipmentID)
	buf[26] = h.LinkID
	binary.LittleEndian.PutUint32(buf[27:31], h.FirstOrbit)
	binary.LittleEndian.PutUint32(buf[31:35], h.LastOrbit)
	buf[35] = boolByte(h.EndOfTimeframe)
	buf[36] = boolByte(h.IsRDHFormat)
	binary.LittleEndian.PutUint32(buf[37:41], h.RunNumber)
}

// Decode is the inverse of Encode.
func Decode(buf []byte) Header {
	_ = buf[:EncodedSize]
	return Header{
		BlockType:      TypeTag(binary.LittleEndian.Uint16(buf[0:2])),
		HeaderSize:     binary.LittleEndian.Uint16(buf[2:4]),
		PayloadSize:    binary.LittleEndian.Uint32(buf[4:8]),
		BlockID:        binary.LittleEndian.Uint64(buf[8:16]),
		PipelineID:     buf[16],
		TimeframeID:    binary.LittleEndian.Uint32(buf[17:21]),
		SystemID:       buf[21],
		FeeID:          binary.LittleEndian.Uint16(buf[22:24]),
		EquipmentID:    binary.LittleEndian.Uint16(buf[24:26]),
		LinkID:         buf[26],
		FirstOrbit:     binary.LittleEndian.Uint32(buf[27:31]),
		LastOrbit:      binary.LittleEndian.Uint32(buf[31:35]),
		EndOfTimeframe: buf[35] != 0,
		IsRDHFormat:    buf[36] != 0,
		RunNumber:      binary.LittleEndian.Uint32(buf[37:41]),
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
