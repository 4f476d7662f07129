package probe

import (
	"context"
	"net"
	"time"
)

// TCPProber checks that a TCP address accepts connections
type TCPProber struct {
	Address string
}

// NewTCPProber creates a TCP prober for address
func NewTCPProber(address string) *TCPProber {
	return &TCPProber{Address: address}
}

// Probe dials the address once
func (t *TCPProber) Probe(ctx context.Context) Result {
	start := time.Now()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, "connection failed: %v", err)
	}
	conn.Close()

	return Result{
		Healthy:   true,
		Message:   "TCP connection to " + t.Address + " successful",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPProber) Kind() Kind {
	return KindTCP
}
