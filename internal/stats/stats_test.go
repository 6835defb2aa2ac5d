package stats

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestCounters_RecordLatencyAverage(t *testing.T) {
	c := New()
	c.RecordLatency(10 * time.Millisecond)
	c.RecordLatency(20 * time.Millisecond)
	if got := c.AverageLatency(); got != 15*time.Millisecond {
		t.Errorf("AverageLatency = %v, want 15ms", got)
	}
}

func TestCounters_AverageLatencyZeroSamples(t *testing.T) {
	c := New()
	if got := c.AverageLatency(); got != 0 {
		t.Errorf("AverageLatency with no samples = %v, want 0", got)
	}
}

func TestEncode_RoundTripsSubtimeframeCount(t *testing.T) {
	c := New()
	c.Subtimeframes.Store(42)
	c.FirstOrbit.Store(1000)
	buf := c.Encode()
	if got := binary.LittleEndian.Uint64(buf[0:8]); got != 42 {
		t.Errorf("Subtimeframes field = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint64(buf[56:64]); got != 1000 {
		t.Errorf("FirstOrbit field = %d, want 1000", got)
	}
}

func TestPublisher_SendsDatagrams(t *testing.T) {
	ln, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer ln.Close()

	c := New()
	c.Subtimeframes.Store(7)
	pub, err := NewPublisher(c, ln.LocalAddr().String(), 5*time.Millisecond)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go pub.Run(ctx)
	defer cancel()

	buf := make([]byte, wireLayoutSize)
	ln.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := ln.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if n != wireLayoutSize {
		t.Errorf("datagram size = %d, want %d", n, wireLayoutSize)
	}
	if got := binary.LittleEndian.Uint64(buf[0:8]); got != 7 {
		t.Errorf("received Subtimeframes = %d, want 7", got)
	}
}
