package config

import (
	"context"
	"errors"
	"fmt"
)

// ServiceURLGlobal is the host-page global carrying the service base address.
const ServiceURLGlobal = "SERVICE_URL"

// ErrNoAddress is returned when a source has no address to offer.
var ErrNoAddress = errors.New("config: no service address")

// AddressSource yields the service base address. It is consulted once, when the
// dispatcher is built.
type AddressSource interface {
	ServiceAddress(ctx context.Context) (string, error)
}

// StaticAddress is a fixed address, usually from the file or a flag.
type StaticAddress string

func (a StaticAddress) ServiceAddress(context.Context) (string, error) {
	if a == "" {
		return "", ErrNoAddress
	}
	return string(a), nil
}

// Globals exposes host-provided globals, as page.Page does.
type Globals interface {
	Global(name string) (any, bool)
}

// PageAddress reads SERVICE_URL from the host page.
type PageAddress struct {
	Page Globals
}

func (a PageAddress) ServiceAddress(context.Context) (string, error) {
	v, ok := a.Page.Global(ServiceURLGlobal)
	if !ok {
		return "", fmt.Errorf("%w: %s is not defined", ErrNoAddress, ServiceURLGlobal)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s is not a non-empty string", ErrNoAddress, ServiceURLGlobal)
	}
	return s, nil
}

// ResolveAddress asks each source in turn and returns the first address found.
// Failures other than ErrNoAddress stop the search.
func ResolveAddress(ctx context.Context, sources ...AddressSource) (string, error) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		addr, err := src.ServiceAddress(ctx)
		if err == nil {
			return addr, nil
		}
		if !errors.Is(err, ErrNoAddress) {
			return "", err
		}
	}
	return "", ErrNoAddress
}
