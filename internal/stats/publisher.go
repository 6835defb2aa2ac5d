package stats

import (
	"context"
	"net"
	"time"
)

// Publisher periodically sends the Encode()d Counters block to a UDP
// datagram destination, transmitted verbatim over the socket. Uses only
// stdlib net: a raw fixed-layout datagram push needs nothing more than
// net.Dial("udp", ...).
type Publisher struct {
	counters *Counters
	conn     net.Conn
	interval time.Duration
}

// NewPublisher dials addr over UDP and returns a Publisher that will
// push counters every interval once Run is called.
func NewPublisher(counters *Counters, addr string, interval time.Duration) (*Publisher, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{counters: counters, conn: conn, interval: interval}, nil
}

// Run blocks, publishing counters every interval until ctx is
// cancelled. Send errors are swallowed: a stalled monitor process must
// never back-pressure the pipeline.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.conn.Write(p.counters.Encode())
		}
	}
}

// Close releases the underlying UDP socket.
func (p *Publisher) Close() error { return p.conn.Close() }
