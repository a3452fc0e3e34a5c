// Package bridge reports the state of the host bridge interface that
// backs the canonical network.
package bridge

import (
	"errors"
	"net/netip"
)

// ErrUnsupported is returned on platforms without netlink.
var ErrUnsupported = errors.New("bridge inspection is not supported on this platform")

// Link is the host-side view of a bridge interface.
type Link struct {
	Name   string
	Exists bool
	Up     bool
	MTU    int
	Addrs  []netip.Prefix
}
