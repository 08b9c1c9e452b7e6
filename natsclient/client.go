// Package natsclient holds the shared NATS/JetStream connection
// plumbing used by the KV session backend and the dispatch queue.
package natsclient

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Client wraps a NATS connection with its JetStream context.
type Client struct {
	Conn *nats.Conn
	JS   jetstream.JetStream
}

// Connect dials the NATS server and opens a JetStream context. The
// connection retries forever with a capped backoff, so a restarting
// server does not kill long-running commands.
func Connect(url, name string) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream context: %w", err)
	}

	return &Client{Conn: conn, JS: js}, nil
}

// Close drains the connection.
func (c *Client) Close() {
	if c.Conn != nil {
		_ = c.Conn.Drain()
	}
}
