package main

import (
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/connect"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/device"
	"github.com/edumarques81/stellar-connect-streamer/internal/domain/registry"
	"github.com/edumarques81/stellar-connect-streamer/internal/transport/rest"
)

// devices exposes the session registry to the REST API.
type devices struct {
	reg *registry.Registry[*connect.Session]
}

func (d devices) List() []device.Device {
	return d.reg.List()
}

func (d devices) Resolve(id string) (rest.Session, error) {
	s, _, err := d.reg.Resolve(id)
	if err != nil {
		return nil, err
	}
	return s, nil
}
