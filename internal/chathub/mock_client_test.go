package chathub_test

import (
	"encoding/json"
	"sync"

	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/models"
)

// MockClient records every payload it is sent.
type MockClient struct {
	userID string

	mu       sync.Mutex
	open     bool
	failSend bool
	block    chan struct{}
	closes   int
	received [][]byte
}

func newMockClient(userID string) *MockClient {
	return &MockClient{userID: userID, open: true}
}

func (c *MockClient) GetUserID() string { return c.userID }

func (c *MockClient) Send(payload []byte) error {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open || c.failSend {
		return chathub.ErrClientClosed
	}
	c.received = append(c.received, payload)
	return nil
}

func (c *MockClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closes++
}

// drop simulates the transport going away without Close being called.
func (c *MockClient) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func (c *MockClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *MockClient) events() []models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Event, 0, len(c.received))
	for _, p := range c.received {
		var e models.Event
		if err := json.Unmarshal(p, &e); err == nil {
			out = append(out, e)
		}
	}
	return out
}
