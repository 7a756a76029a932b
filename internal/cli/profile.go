package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
)

func newProfileCmd() *cobra.Command {
	root := &cobra.Command{Use: "profile", Short: "Manage tunnel profiles"}
	root.AddCommand(newProfileAddCmd(), newProfileListCmd(), newProfileShowCmd(), newProfileDeleteCmd())
	return root
}

func newProfileAddCmd() *cobra.Command {
	var (
		host       string
		port       int
		user       string
		authType   string
		keyPath    string
		bindAddr   string
		localPort  int
		remoteHost string
		remotePort int
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a tunnel profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := model.NewProfile(args[0],
				model.ConnectionConfig{
					Host:     host,
					Port:     port,
					User:     user,
					AuthType: model.AuthType(authType),
					KeyPath:  keyPath,
				},
				model.ForwardingConfig{
					Type:        model.ForwardLocal,
					BindAddress: bindAddr,
					LocalPort:   localPort,
					RemoteHost:  remoteHost,
					RemotePort:  remotePort,
				},
			)
			store, err := profileStore()
			if err != nil {
				return err
			}
			path, err := store.Save(p, overwrite)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created profile %s (%s)\n  %s\n", p.Name, p.ID, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "SSH server host (required)")
	cmd.Flags().IntVar(&port, "port", 22, "SSH server port")
	cmd.Flags().StringVar(&user, "user", "", "SSH user (required)")
	cmd.Flags().StringVar(&authType, "auth", "key", "auth type: key, password, or passwordwith2fa")
	cmd.Flags().StringVar(&keyPath, "key", "", "private key path (for key auth)")
	cmd.Flags().StringVar(&bindAddr, "bind", "127.0.0.1", "local bind address")
	cmd.Flags().IntVar(&localPort, "local-port", 0, "local port to bind (required)")
	cmd.Flags().StringVar(&remoteHost, "remote-host", "", "remote host to forward to (required)")
	cmd.Flags().IntVar(&remotePort, "remote-port", 0, "remote port to forward to (required)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite an existing profile")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("local-port")
	_ = cmd.MarkFlagRequired("remote-host")
	_ = cmd.MarkFlagRequired("remote-port")
	return cmd
}

func newProfileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := profileStore()
			if err != nil {
				return err
			}
			profiles, err := store.List()
			if err != nil {
				return err
			}
			sort.Slice(profiles, func(i, j int) bool { return profiles[i].Name < profiles[j].Name })
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-38s %-28s %s\n", "NAME", "ID", "SSH", "FORWARD")
			for _, p := range profiles {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-38s %-28s %s\n",
					p.Name, p.ID,
					fmt.Sprintf("%s@%s:%d", p.Connection.User, p.Connection.Host, p.Connection.Port),
					forwardSummary(p))
			}
			return nil
		},
	}
}

func newProfileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name|id>",
		Short: "Show a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProfile(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func newProfileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name|id>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProfile(args[0])
			if err != nil {
				return err
			}
			store, err := profileStore()
			if err != nil {
				return err
			}
			if err := store.DeleteByID(p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", p.Name)
			return nil
		},
	}
}

func forwardSummary(p *model.Profile) string {
	f := p.Forwarding
	switch f.Type {
	case model.ForwardLocal:
		return fmt.Sprintf("%s:%d -> %s:%d", f.BindAddr(), f.LocalPort, f.RemoteHost, f.RemotePort)
	case model.ForwardRemote:
		return fmt.Sprintf("remote %d -> %s:%d", f.LocalPort, f.RemoteHost, f.RemotePort)
	case model.ForwardDynamic:
		return fmt.Sprintf("socks %s:%d", f.BindAddr(), f.LocalPort)
	}
	return string(f.Type)
}
