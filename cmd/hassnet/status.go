package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"hassnet/cmd/hassnet/ui"
	"hassnet/internal/bridge"
	"hassnet/internal/network"

	"github.com/spf13/cobra"
)

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the network, its reserved addresses and members",
		Long:  "Show the network without changing it. The plan line reports what ensure would do.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer s.Close()

			var existing *network.Attributes
			h, err := s.provider.Get(cmd.Context(), s.spec.Name)
			switch {
			case err == nil:
				attrs := h.Attributes()
				existing = &attrs
			case !network.IsNotFound(err):
				return err
			}

			desired := opts.cfg.DesiredIPv6()
			pairs := []ui.Pair{
				ui.KV("network", s.spec.Name),
				ui.KV("exists", ui.Bool(existing != nil)),
			}
			if existing != nil {
				pairs = append(pairs,
					ui.KV("id", existing.ID),
					ui.KV("ipv6", ui.Bool(existing.EnableIPv6)),
				)
			}
			pairs = append(pairs,
				ui.KV("desired ipv6", ui.Bool(desired)),
				ui.KV("plan", network.Decide(existing, desired).String()),
				ui.KV("bridge", bridgeState(s.spec.BridgeName)),
			)
			fmt.Print(ui.KeyValues("", pairs...))

			fmt.Println()
			fmt.Println(ui.Table([]string{"ROLE", "ADDRESS"}, reservedRows(s.spec)))

			if existing != nil && len(existing.Containers) > 0 {
				fmt.Println()
				fmt.Println(ui.Table([]string{"CONTAINER", "IPV4", "IPV6"}, memberRows(existing.Containers)))
			}
			return nil
		},
	}
}

func reservedRows(spec network.Spec) [][]string {
	rows := make([][]string, 0, len(network.Roles)+1)
	for _, role := range network.Roles {
		rows = append(rows, []string{role.String(), spec.Address(role).String()})
	}
	rows = append(rows, []string{"dynamic range", spec.IPv4Range.String()})
	return rows
}

func memberRows(members map[string]network.Endpoint) [][]string {
	rows := make([][]string, 0, len(members))
	for _, ep := range members {
		rows = append(rows, []string{ep.Name, prefixOrDash(ep.IPv4.IsValid(), ep.IPv4.String()), prefixOrDash(ep.IPv6.IsValid(), ep.IPv6.String())})
	}
	slices.SortFunc(rows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return rows
}

func prefixOrDash(valid bool, s string) string {
	if !valid {
		return ui.Dash("")
	}
	return s
}

func bridgeState(name string) string {
	link, err := bridge.Inspect(name)
	switch {
	case errors.Is(err, bridge.ErrUnsupported):
		return ui.Muted("unknown")
	case err != nil:
		return ui.Muted(err.Error())
	case !link.Exists:
		return ui.Muted(name + " absent")
	}

	addrs := make([]string, 0, len(link.Addrs))
	for _, a := range link.Addrs {
		addrs = append(addrs, a.String())
	}
	state := fmt.Sprintf("%s %s mtu %d", name, ui.State(link.Up, "up", "down"), link.MTU)
	if len(addrs) > 0 {
		state += " " + strings.Join(addrs, ", ")
	}
	return state
}
