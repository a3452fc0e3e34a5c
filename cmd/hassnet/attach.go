package main

import (
	"fmt"
	"net/netip"
	"time"

	"hassnet/cmd/hassnet/ui"
	"hassnet/internal/network"
	"hassnet/internal/startup"

	"github.com/spf13/cobra"
)

type attachFlags struct {
	aliases      []string
	ip           string
	role         string
	retryTimeout time.Duration
	keepDefault  bool
}

// address resolves --ip or --role against spec. Neither means the
// provider picks from the dynamic range.
func (f attachFlags) address(spec network.Spec) (netip.Addr, error) {
	switch {
	case f.ip != "" && f.role != "":
		return netip.Addr{}, fmt.Errorf("--ip and --role are mutually exclusive")
	case f.role != "":
		role, err := network.ParseRole(f.role)
		if err != nil {
			return netip.Addr{}, err
		}
		return spec.Address(role), nil
	case f.ip != "":
		addr, err := netip.ParseAddr(f.ip)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("parse --ip: %w", err)
		}
		if !addr.Is4() || !spec.IPv4Subnet.Contains(addr) {
			return netip.Addr{}, fmt.Errorf("--ip %s is outside %s", addr, spec.IPv4Subnet)
		}
		return addr, nil
	}
	return netip.Addr{}, nil
}

func attachCmd(opts *rootOptions) *cobra.Command {
	var f attachFlags

	cmd := &cobra.Command{
		Use:   "attach <container>",
		Short: "Attach a container to the network",
		Long: "Attach a container to the network, clearing any stale entry with the same name first.\n" +
			"Unless --keep-default is set the container is then detached from the default network.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, opts, startup.Options{MaxElapsed: f.retryTimeout})
			if err != nil {
				return err
			}
			defer s.Close()

			ipv4, err := f.address(s.spec)
			if err != nil {
				return err
			}
			c, err := s.resolveContainer(ctx, args[0])
			if err != nil {
				return err
			}

			req := startup.AttachRequest{Container: c, Aliases: f.aliases, IPv4: ipv4}
			if f.keepDefault {
				err = s.runner.Attach(ctx, req)
			} else {
				err = s.runner.Start(ctx, req)
			}
			if err != nil {
				return err
			}

			fmt.Println(ui.SuccessMsg("Attached %s to %s.", ui.Bold(c.String()), ui.Bold(s.mgr.Name())))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&f.aliases, "alias", nil, "Network alias (repeatable)")
	cmd.Flags().StringVar(&f.ip, "ip", "", "Static IPv4 address")
	cmd.Flags().StringVar(&f.role, "role", "", "Use the reserved address of a role (supervisor, dns, audio, cli, observer)")
	cmd.Flags().DurationVar(&f.retryTimeout, "retry-timeout", startup.DefaultMaxElapsed, "Give up retrying after this long")
	cmd.Flags().BoolVar(&f.keepDefault, "keep-default", false, "Stay attached to the default network")
	return cmd
}

func detachDefaultCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "detach-default <container>",
		Short: "Detach a container from the runtime's default network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := open(ctx, opts, startup.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.resolveContainer(ctx, args[0])
			if err != nil {
				return err
			}
			if err := s.runner.DetachDefault(ctx, c); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("%s is not on %s.", ui.Bold(c.String()), ui.Bold(opts.cfg.Network.DefaultNetwork)))
			return nil
		},
	}
}

func cleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <name>",
		Short: "Force-remove a stale membership entry by container name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), opts, startup.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.runner.Cleanup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println(ui.SuccessMsg("No entry named %s on %s.", ui.Bold(args[0]), ui.Bold(s.mgr.Name())))
			return nil
		},
	}
}
