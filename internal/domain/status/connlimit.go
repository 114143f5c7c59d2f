package status

import (
	"net"
	"sync"
)

// ConnectionLimiter caps the number of observers attached from other hosts.
// Loopback observers are never counted. When a new remote observer exceeds
// the cap, the oldest remote observer is evicted.
type ConnectionLimiter struct {
	mu          sync.Mutex
	maxExternal int
	// remote observer ids, oldest first
	external []string
	// observer id -> remote ip
	connections map[string]string
}

// NewConnectionLimiter creates a limiter allowing up to maxExternal remote
// observers. Zero or less means no cap.
func NewConnectionLimiter(maxExternal int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxExternal: maxExternal,
		external:    make([]string, 0),
		connections: make(map[string]string),
	}
}

// Add registers an observer and returns the id of the observer it evicted, if any.
func (cl *ConnectionLimiter) Add(id, remoteIP string) (evictedID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.connections[id]; exists {
		return ""
	}
	cl.connections[id] = remoteIP

	if isLoopback(remoteIP) {
		return ""
	}

	cl.external = append(cl.external, id)
	if cl.maxExternal > 0 && len(cl.external) > cl.maxExternal {
		evictedID = cl.external[0]
		cl.external = cl.external[1:]
		delete(cl.connections, evictedID)
	}
	return evictedID
}

// Remove unregisters an observer.
func (cl *ConnectionLimiter) Remove(id string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	ip, exists := cl.connections[id]
	if !exists {
		return
	}
	delete(cl.connections, id)

	if isLoopback(ip) {
		return
	}
	for i, ext := range cl.external {
		if ext == id {
			cl.external = append(cl.external[:i], cl.external[i+1:]...)
			break
		}
	}
}

// External returns the number of remote observers.
func (cl *ConnectionLimiter) External() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.external)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
