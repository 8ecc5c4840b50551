package rpc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/isearch/isearch/pkg/embed"
)

// ErrRejected is returned by Client.Search when the daemon's admission gate
// is saturated. Callers may back off and retry.
var ErrRejected = errors.New("rpc: query rejected, server busy")

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 3 * time.Second

// Client is a connection to a running daemon. It is safe for concurrent
// use; calls are serialized over the single connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to a daemon at the given bind address, using the same
// unix-socket versus host:port detection as the server.
func Dial(bind string) (*Client, error) {
	network := "unix"
	if IsHostPort(bind) {
		network = "tcp"
	}
	conn, err := net.DialTimeout(network, bind, DefaultDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", bind, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}

// call performs one request/response exchange.
func (c *Client) call(method string, args, result any) error {
	body, err := msgpack.Marshal(args)
	if err != nil {
		return fmt.Errorf("rpc: encode args: %w", err)
	}
	req := Request{
		ID:     uuid.NewString(),
		Method: method,
		Args:   body,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeMessage(c.conn, &req); err != nil {
		return fmt.Errorf("rpc: send %s: %w", method, err)
	}
	var resp Response
	if err := readMessage(c.conn, &resp); err != nil {
		return fmt.Errorf("rpc: receive %s: %w", method, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("rpc: response id %q does not match request %q", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	if result != nil {
		if err := msgpack.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("rpc: decode %s result: %w", method, err)
		}
	}
	return nil
}

// Add queues payloads for ingestion and returns how many were accepted.
func (c *Client) Add(db string, items map[string]embed.Payload) (int, error) {
	args := AddArgs{DB: db, Items: make(map[string]Payload, len(items))}
	for label, p := range items {
		args.Items[label] = FromPayload(p)
	}
	var result AddResult
	if err := c.call(MethodAdd, args, &result); err != nil {
		return 0, err
	}
	return result.Accepted, nil
}

// Search runs a k-NN query. A saturated daemon yields ErrRejected; an empty
// result set is simply a nil slice.
func (c *Client) Search(db string, payload embed.Payload, k int, minSim float64) ([]Match, error) {
	args := SearchArgs{DB: db, Payload: FromPayload(payload), K: k, MinSimilarity: minSim}
	var result SearchResult
	if err := c.call(MethodSearch, args, &result); err != nil {
		return nil, err
	}
	if result.Status == "rejected" {
		return nil, ErrRejected
	}
	return result.Matches, nil
}

// Has reports, per label, whether the store holds it.
func (c *Client) Has(db string, labels []string) ([]bool, error) {
	var result HasResult
	if err := c.call(MethodHas, HasArgs{DB: db, Labels: labels}, &result); err != nil {
		return nil, err
	}
	return result.Present, nil
}

// Info returns store metadata.
func (c *Client) Info(db string) (InfoResult, error) {
	var result InfoResult
	err := c.call(MethodInfo, InfoArgs{DB: db}, &result)
	return result, err
}

// List returns all store names.
func (c *Client) List() ([]string, error) {
	var result ListResult
	if err := c.call(MethodList, struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Stores, nil
}

// Clear removes every entry from a store.
func (c *Client) Clear(db string) error {
	return c.call(MethodClear, ClearArgs{DB: db}, nil)
}

// Delete removes entries by label and/or key.
func (c *Client) Delete(db string, labels []string, keys []uint32, rebuild bool) error {
	return c.call(MethodDelete, DeleteArgs{DB: db, Labels: labels, Keys: keys, Rebuild: rebuild}, nil)
}

// Drop deletes a store and its files.
func (c *Client) Drop(db string) error {
	return c.call(MethodDrop, DropArgs{DB: db}, nil)
}

// Compare returns the similarity percentage of two payloads.
func (c *Client) Compare(a, b embed.Payload) (float64, error) {
	args := CompareArgs{A: FromPayload(a), B: FromPayload(b)}
	var result CompareResult
	if err := c.call(MethodCompare, args, &result); err != nil {
		return 0, err
	}
	return result.Similarity, nil
}

// Ping checks daemon liveness and returns the ingestion backlog.
func (c *Client) Ping() (PingResult, error) {
	var result PingResult
	err := c.call(MethodPing, struct{}{}, &result)
	return result, err
}
