package remote

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/openhazard/engine/internal/parallel"
	"github.com/openhazard/engine/internal/probmap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// #region client

// Client fans tasks out to worker daemons round-robin. It satisfies
// parallel.Runner, so the calculator cannot tell remote execution from
// local.
type Client struct {
	addrs []string
	conns []*grpc.ClientConn
	next  atomic.Uint64
}

var _ parallel.Runner = (*Client)(nil)

// Dial connects to every worker address. Extra options are appended after
// the defaults (plaintext transport, gob payloads).
func Dial(addrs []string, opts ...grpc.DialOption) (*Client, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no worker addresses")
	}
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	}
	c := &Client{addrs: addrs}
	for _, addr := range addrs {
		conn, err := grpc.NewClient(addr, append(base, opts...)...)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
		}
		c.conns = append(c.conns, conn)
	}
	return c, nil
}

// Close shuts down every worker connection.
func (c *Client) Close() error {
	var first error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// #endregion client

// #region calls

// Run ships one task to the next worker and decodes the partial map.
func (c *Client) Run(ctx context.Context, t parallel.Task) (*probmap.Map, error) {
	i := int(c.next.Add(1)-1) % len(c.conns)
	req := encodeTask(t)
	resp := new(TaskResponse)
	if err := c.conns[i].Invoke(ctx, methodExecute, req, resp); err != nil {
		return nil, fmt.Errorf("worker %s task %d: %w", c.addrs[i], t.Seq, err)
	}
	return decodeMap(resp), nil
}

// CheckShape pings every worker and verifies it serves the expected curve
// shape. Run before dispatching so shape drift between coordinator and
// worker model files fails fast.
func (c *Client) CheckShape(ctx context.Context, levels, gsims int) error {
	for i, conn := range c.conns {
		resp := new(PingResponse)
		if err := conn.Invoke(ctx, methodPing, new(PingRequest), resp); err != nil {
			return fmt.Errorf("ping worker %s: %w", c.addrs[i], err)
		}
		if resp.Levels != levels || resp.Gsims != gsims {
			return fmt.Errorf("worker %s serves shape %dx%d, coordinator wants %dx%d",
				c.addrs[i], resp.Levels, resp.Gsims, levels, gsims)
		}
	}
	return nil
}

// #endregion calls
