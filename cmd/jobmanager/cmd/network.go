package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SDU-eScience/UCloud-sub021/internal/common/ucontext"
	"github.com/SDU-eScience/UCloud-sub021/internal/jobmanager"
)

func ingressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingress",
		Short: "Manages public domains which jobs can bind to",
	}

	create := &cobra.Command{
		Use:   "create domain",
		Short: "Reserves a domain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := ownerFromFlags(cmd)
			return withApp(func(ctx *ucontext.Context, a *jobmanager.App) error {
				ingress, err := a.Ingresses.Create(ctx, owner, args[0])
				if err != nil {
					return err
				}
				fmt.Println(ingress.Domain)
				return nil
			})
		},
	}
	addOwnerFlags(create)

	remove := &cobra.Command{
		Use:   "delete domain",
		Short: "Releases a domain which is not bound to any job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := ownerFromFlags(cmd)
			return withApp(func(ctx *ucontext.Context, a *jobmanager.App) error {
				return a.Ingresses.Delete(ctx, owner, args[0])
			})
		},
	}
	addOwnerFlags(remove)

	cmd.AddCommand(create, remove)
	return cmd
}

func networkIpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "networkip",
		Short: "Manages public IP addresses which jobs can bind to",
	}

	allocate := &cobra.Command{
		Use:   "allocate",
		Short: "Allocates public IP addresses and charges the owner for them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			owner := ownerFromFlags(cmd)
			count, err := cmd.Flags().GetInt("count")
			if err != nil {
				return err
			}
			return withApp(func(ctx *ucontext.Context, a *jobmanager.App) error {
				ips, err := a.NetworkIps.AllocateMany(ctx, owner, count)
				if err != nil {
					return err
				}
				for _, ip := range ips {
					fmt.Printf("%s\t%s\n", ip.Id, ip.Address)
				}
				return nil
			})
		},
	}
	addOwnerFlags(allocate)
	allocate.Flags().Int("count", 1, "number of addresses to allocate")

	cmd.AddCommand(allocate)
	return cmd
}
