package block

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		BlockType:      TypeRDH,
		HeaderSize:     uint16(HeaderSizeBytes),
		PayloadSize:    8192,
		BlockID:        123456789,
		PipelineID:     2,
		TimeframeID:    42,
		SystemID:       7,
		FeeID:          300,
		EquipmentID:    5,
		LinkID:         3,
		FirstOrbit:     1000,
		LastOrbit:      1255,
		EndOfTimeframe: true,
		IsRDHFormat:    true,
		RunNumber:      555001,
	}
	buf := make([]byte, HeaderSizeBytes)
	Encode(buf, h)
	got := Decode(buf)
	if got != h {
		t.Errorf("round trip = %+v, want %+v", got, h)
	}
}

func TestEncodeDefaultSentinelsSurviveRoundTrip(t *testing.T) {
	h := Default()
	buf := make([]byte, HeaderSizeBytes)
	Encode(buf, h)
	got := Decode(buf)
	if !IsUndefinedLink(got.LinkID) || !IsUndefinedTimeframe(got.TimeframeID) {
		t.Errorf("sentinels lost in round trip: %+v", got)
	}
}

func TestEncodedSizeFitsReservation(t *testing.T) {
	if EncodedSize > HeaderSizeBytes {
		t.Fatalf("EncodedSize %d exceeds HeaderSizeBytes %d", EncodedSize, HeaderSizeBytes)
	}
}
