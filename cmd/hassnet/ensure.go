package main

import (
	"fmt"

	"hassnet/cmd/hassnet/ui"
	"hassnet/internal/network"
	"hassnet/internal/startup"

	"github.com/spf13/cobra"
)

func ensureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure",
		Short: "Create the network, or migrate it to the configured stack",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), opts, startup.Options{})
			if err != nil {
				return err
			}
			defer s.Close()

			m := s.mgr
			switch m.Decision() {
			case network.DecisionCreate:
				fmt.Println(ui.SuccessMsg("Network %s created.", ui.Bold(m.Name())))
			case network.DecisionRecreate:
				fmt.Println(ui.SuccessMsg("Network %s migrated.", ui.Bold(m.Name())))
			default:
				fmt.Println(ui.InfoMsg("Network %s is up to date.", ui.Bold(m.Name())))
			}
			fmt.Print(ui.KeyValues("  ",
				ui.KV("id", m.Network().Attributes().ID),
				ui.KV("ipv6", ui.Bool(m.EnableIPv6())),
				ui.KV("gateway", m.Gateway().String()),
				ui.KV("members", fmt.Sprint(len(m.Containers()))),
			))
			return nil
		},
	}
}
