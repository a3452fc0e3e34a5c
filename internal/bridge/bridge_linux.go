//go:build linux

package bridge

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// Inspect looks up the named interface. A missing interface is reported
// with Exists false, not as an error.
func Inspect(name string) (Link, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return Link{Name: name}, nil
		}
		return Link{}, fmt.Errorf("get link %s: %w", name, err)
	}

	attrs := link.Attrs()
	out := Link{
		Name:   name,
		Exists: true,
		Up:     attrs.Flags&net.FlagUp != 0,
		MTU:    attrs.MTU,
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return Link{}, fmt.Errorf("list addresses of %s: %w", name, err)
	}
	for _, a := range addrs {
		if p, ok := prefixFromIPNet(a.IPNet); ok {
			out.Addrs = append(out.Addrs, p)
		}
	}
	return out, nil
}

func prefixFromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.Prefix{}, false
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), ones), true
}
