package block

// SliceKey identifies a per-source slicer state: equipment id and link
// id. Equipments that do not tag a link id use the undefined sentinel,
// which groups all of their undefined-link traffic into one slice per
// timeframe.
type SliceKey struct {
	EquipmentID uint16
	LinkID      uint8
}

// KeyOf derives the slicer key for a header.
func KeyOf(h Header) SliceKey {
	return SliceKey{EquipmentID: h.EquipmentID, LinkID: h.LinkID}
}
