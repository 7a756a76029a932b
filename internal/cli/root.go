// Package cli provides the command-line interface for ssh-tunnel-cli.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/appconfig"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/client"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/model"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/profile"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ssh-tunnel-cli",
		Short:         "Control the SSH tunnel manager daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newProfileCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newEventsCmd(),
		newImportConfigCmd(),
		newDaemonCmd(),
	)
	return root
}

func newClient() (*client.Client, appconfig.ClientConfig, error) {
	cfg, err := appconfig.LoadClientConfig()
	if err != nil {
		return nil, cfg, err
	}
	c, err := client.New(cfg)
	return c, cfg, err
}

func profileStore() (*profile.Store, error) {
	dir, err := appconfig.ProfilesDir()
	if err != nil {
		return nil, err
	}
	return profile.NewStore(dir), nil
}

// resolveProfile accepts either a profile name or a UUID.
func resolveProfile(arg string) (*model.Profile, error) {
	store, err := profileStore()
	if err != nil {
		return nil, err
	}
	if id, err := uuid.Parse(arg); err == nil {
		return store.LoadByID(id)
	}
	return store.LoadByName(arg)
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <profile-name|id>",
		Short: "Start a tunnel and follow it until connected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProfile(args[0])
			if err != nil {
				return err
			}
			c, cfg, err := newClient()
			if err != nil {
				return err
			}

			// Remote daemons get the profile in-request; local ones
			// read their own store. Key material never leaves disk.
			var hybrid *model.Profile
			if cfg.ConnectionMode != appconfig.ConnectUnixSocket {
				hybrid = profile.PrepareHybrid(p)
			}

			err = c.StartTunnelWithEvents(cmd.Context(), p.ID, hybrid, terminalAuthHandler(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), connectedBanner(p))
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <profile-name|id>",
		Short: "Stop a running tunnel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolveProfile(args[0])
			if err != nil {
				return err
			}
			c, _, err := newClient()
			if err != nil {
				return err
			}
			if err := c.StopTunnel(cmd.Context(), p.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", p.Name)
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show active tunnels",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			tunnels, err := c.ListTunnels(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(tunnels, func(i, j int) bool {
				return tunnels[i].ID.String() < tunnels[j].ID.String()
			})
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(tunnels)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderStatusTable(tunnels))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	return cmd
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream daemon events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			stream, err := c.SubscribeEvents(cmd.Context())
			if err != nil {
				return err
			}
			defer stream.Close()

			for ev := range stream.Events {
				fmt.Fprintln(cmd.OutOrStdout(), renderEvent(ev))
			}
			if err := stream.Err(); err != nil {
				return err
			}
			return nil
		},
	}
}

func newImportConfigCmd() *cobra.Command {
	var daemonHost string
	cmd := &cobra.Command{
		Use:   "import-config",
		Short: "Install the daemon-generated snippet as cli.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			snippetPath, err := appconfig.SnippetPath()
			if err != nil {
				return err
			}
			b, err := os.ReadFile(snippetPath)
			if err != nil {
				if os.IsNotExist(err) {
					return fmt.Errorf(
						"no snippet at %s; start the daemon once to generate it", snippetPath)
				}
				return err
			}
			target, err := appconfig.ClientConfigPath()
			if err != nil {
				return err
			}
			if err := os.WriteFile(target, b, 0o600); err != nil {
				return err
			}

			cfg, err := appconfig.LoadClientConfig()
			if err != nil {
				return err
			}
			if daemonHost != "" {
				cfg.DaemonHost = daemonHost
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("imported config is incomplete: %w (re-run with --daemon-host)", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVar(&daemonHost, "daemon-host", "", "daemon address when the snippet leaves daemon_host empty")
	return cmd
}

func newDaemonCmd() *cobra.Command {
	root := &cobra.Command{Use: "daemon", Short: "Inspect or control the daemon"}

	info := &cobra.Command{
		Use:   "info",
		Short: "Show daemon information",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			info, err := c.DaemonInfo(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}

	shutdown := &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to exit gracefully",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			if err := c.Shutdown(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "shutdown requested")
			return nil
		},
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check the daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			if err := c.Health(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}

	root.AddCommand(info, shutdown, health)
	return root
}
