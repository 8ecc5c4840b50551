// Package rpc implements the daemon's control transport: length-prefixed
// msgpack frames over a unix socket or a loopback TCP address. Each frame is
// one Request or Response; requests carry uuid correlation IDs so a client
// can verify it got the answer to the call it made.
package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/isearch/isearch/pkg/embed"
)

// ErrFrameTooLarge is returned when a peer announces a frame beyond the
// size limit.
var ErrFrameTooLarge = errors.New("rpc: frame too large")

// maxFrameSize bounds a single frame. Image payloads ride inside frames, so
// the limit is generous.
const maxFrameSize = 64 << 20

// hostPortPattern matches bind addresses that mean TCP rather than a unix
// socket path.
var hostPortPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]*:\d+$`)

// IsHostPort reports whether bind should be dialed as a TCP address. Every
// other bind string is treated as a unix socket path.
func IsHostPort(bind string) bool {
	return hostPortPattern.MatchString(bind)
}

// Request is a single RPC call.
type Request struct {
	ID     string             `msgpack:"id"`
	Method string             `msgpack:"method"`
	Args   msgpack.RawMessage `msgpack:"args"`
}

// Response answers one Request, correlated by ID. Error and Result are
// mutually exclusive.
type Response struct {
	ID     string             `msgpack:"id"`
	Error  string             `msgpack:"error,omitempty"`
	Result msgpack.RawMessage `msgpack:"result,omitempty"`
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, body []byte) error {
	if len(body) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFrame reads one length-prefixed frame.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

func writeMessage(w io.Writer, msg any) error {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("rpc: encode message: %w", err)
	}
	return writeFrame(w, body)
}

func readMessage(r io.Reader, msg any) error {
	body, err := readFrame(r)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("rpc: decode message: %w", err)
	}
	return nil
}

// Payload is the wire form of an embed.Payload, tagged by kind.
type Payload struct {
	Kind string `msgpack:"kind"`
	Text string `msgpack:"text,omitempty"`
	Data []byte `msgpack:"data,omitempty"`
}

// FromPayload converts an embed.Payload to its wire form.
func FromPayload(p embed.Payload) Payload {
	if p.Kind() == embed.KindImage {
		return Payload{Kind: string(embed.KindImage), Data: p.Image}
	}
	return Payload{Kind: string(embed.KindText), Text: p.Text}
}

// ToPayload converts a wire payload back to an embed.Payload.
func (p Payload) ToPayload() (embed.Payload, error) {
	switch embed.Kind(p.Kind) {
	case embed.KindText:
		return embed.Text(p.Text), nil
	case embed.KindImage:
		return embed.Image(p.Data), nil
	default:
		return embed.Payload{}, fmt.Errorf("rpc: unknown payload kind %q", p.Kind)
	}
}

// Match is the wire form of a search match.
type Match struct {
	Label      string  `msgpack:"label"`
	Similarity float64 `msgpack:"similarity"`
}

// Per-method argument and result shapes.
type (
	AddArgs struct {
		DB    string             `msgpack:"db"`
		Items map[string]Payload `msgpack:"items"`
	}
	AddResult struct {
		Accepted int `msgpack:"accepted"`
	}

	SearchArgs struct {
		DB            string  `msgpack:"db"`
		Payload       Payload `msgpack:"payload"`
		K             int     `msgpack:"k"`
		MinSimilarity float64 `msgpack:"min_similarity"`
	}
	SearchResult struct {
		Status  string  `msgpack:"status"`
		Matches []Match `msgpack:"matches,omitempty"`
	}

	HasArgs struct {
		DB     string   `msgpack:"db"`
		Labels []string `msgpack:"labels"`
	}
	HasResult struct {
		Present []bool `msgpack:"present"`
	}

	InfoArgs struct {
		DB string `msgpack:"db"`
	}
	InfoResult struct {
		Name     string `msgpack:"name"`
		Size     int    `msgpack:"size"`
		Capacity int    `msgpack:"capacity"`
		Dim      int    `msgpack:"dim"`
	}

	ListResult struct {
		Stores []string `msgpack:"stores"`
	}

	ClearArgs struct {
		DB string `msgpack:"db"`
	}

	DeleteArgs struct {
		DB      string   `msgpack:"db"`
		Labels  []string `msgpack:"labels,omitempty"`
		Keys    []uint32 `msgpack:"keys,omitempty"`
		Rebuild bool     `msgpack:"rebuild"`
	}

	DropArgs struct {
		DB string `msgpack:"db"`
	}

	CompareArgs struct {
		A Payload `msgpack:"a"`
		B Payload `msgpack:"b"`
	}
	CompareResult struct {
		Similarity float64 `msgpack:"similarity"`
	}

	PingResult struct {
		Pending int `msgpack:"pending"`
	}
)

// Method names.
const (
	MethodAdd     = "add"
	MethodSearch  = "search"
	MethodHas     = "has"
	MethodInfo    = "info"
	MethodList    = "list"
	MethodClear   = "clear"
	MethodDelete  = "delete"
	MethodDrop    = "drop"
	MethodCompare = "compare"
	MethodPing    = "ping"
)
