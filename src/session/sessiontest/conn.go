// Package sessiontest provides an in-memory connection for session tests.
package sessiontest

import (
	"encoding/json"
	"sync"
)

// Conn records everything the session layer does to a connection.
type Conn struct {
	id string

	mu          sync.Mutex
	frames      [][]byte
	pings       int
	closeCode   int
	closeReason string
	terminated  bool
	full        bool
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string { return c.id }

// Send records payload. A full or closed Conn refuses it.
func (c *Conn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closeCode != 0 || c.terminated {
		return false
	}
	c.frames = append(c.frames, payload)
	return true
}

func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return nil
}

func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeCode == 0 {
		c.closeCode, c.closeReason = code, reason
	}
}

func (c *Conn) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
}

// -----------------------------------------------------------------------------

// SetFull makes further sends fail as if the buffer overflowed.
func (c *Conn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

// Messages decodes every frame sent so far.
func (c *Conn) Messages() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns the decoded frames whose type is kind.
func (c *Conn) OfType(kind string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range c.Messages() {
		if m["type"] == kind {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the most recent decoded frame, or nil.
func (c *Conn) Last() map[string]interface{} {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// Reset forgets recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *Conn) Closed() (code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *Conn) Terminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

func (c *Conn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}
