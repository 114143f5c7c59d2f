// Package device describes the playback receivers found on the local network.
package device

import (
	"crypto/md5"
	"encoding/hex"
	"net"
	"strconv"
)

// Device is a discovered receiver. Its identity does not change while it stays on the network.
type Device struct {
	ID          string `json:"uuid"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Address     string `json:"ip"`
	Port        int    `json:"port"`
}

// New builds a device, deriving its id from name and address.
func New(name, description, address string, port int) Device {
	return Device{
		ID:          StableID(name, address),
		Name:        name,
		Description: description,
		Address:     address,
		Port:        port,
	}
}

// StableID hashes name and address into the device id.
func StableID(name, address string) string {
	sum := md5.Sum([]byte(name + "-" + address))
	return hex.EncodeToString(sum[:])
}

// Addr returns host:port.
func (d Device) Addr() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

// EventKind tells whether a device appeared or went away.
type EventKind int

const (
	Up EventKind = iota
	Down
)

func (k EventKind) String() string {
	switch k {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "unknown"
	}
}

// Event is emitted by discovery.
type Event struct {
	Kind   EventKind
	Device Device
}
