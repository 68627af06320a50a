package session

import (
	"sync"

	"casper-chat/internal/models"
)

type fakeConn struct {
	id     string
	ip     string
	mu     sync.Mutex
	events []models.OutboundEvent
	closed bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, ip: "10.0.0." + id}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) RemoteIP() string { return c.ip }

func (c *fakeConn) Send(event models.OutboundEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, event)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) received(t models.EventType) []models.OutboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.OutboundEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *fakeConn) lastRoster() []string {
	rosters := c.received(models.EventUserList)
	if len(rosters) == 0 {
		return nil
	}
	payload := rosters[len(rosters)-1].Payload.(models.UserListPayload)
	names := make([]string, 0, len(payload.Users))
	for _, u := range payload.Users {
		names = append(names, u.Username)
	}
	return names
}
