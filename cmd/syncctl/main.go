// Command syncctl is the operator CLI for managing peers and triggering
// sync runs against this device's local store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dotancohen/notesync/internal/conflict"
	"github.com/dotancohen/notesync/internal/config"
	"github.com/dotancohen/notesync/internal/reconcile"
	"github.com/dotancohen/notesync/internal/store"
	"github.com/dotancohen/notesync/internal/syncclient"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operator CLI for the notesync peer-to-peer sync daemon",
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", "", "Config directory (default: ~/.config/notesync)")

	rootCmd.AddCommand(peerCmd)
	rootCmd.AddCommand(syncNowCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)

	peerCmd.AddCommand(peerAddCmd)
	peerCmd.AddCommand(peerListCmd)
	peerCmd.AddCommand(peerRemoveCmd)

	peerAddCmd.Flags().String("name", "", "Human-readable name for the peer (required)")
	peerAddCmd.Flags().String("url", "", "Base URL of the peer's sync listener, e.g. https://192.168.1.20:8384 (required)")
	peerAddCmd.MarkFlagRequired("name")
	peerAddCmd.MarkFlagRequired("url")
}

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Manage configured sync peers",
}

var peerAddCmd = &cobra.Command{
	Use:   "add DEVICE_ID",
	Short: "Add a peer by device id",
	Long: `Add a peer by its 32-character hex device id. The peer's certificate
fingerprint is left unpinned and captured on first successful connection
(Trust-On-First-Use, spec.md §4.7).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		url, _ := cmd.Flags().GetString("url")

		if err := cfg.AddPeer(args[0], name, url, "", false); err != nil {
			return fmt.Errorf("failed to add peer: %w", err)
		}
		fmt.Printf("✓ Peer added: %s (%s)\n", name, args[0])
		fmt.Println("  Certificate fingerprint will be pinned on first connection.")
		return nil
	},
}

var peerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured peers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		peers := cfg.Peers()
		if len(peers) == 0 {
			fmt.Println("No peers configured")
			return nil
		}
		fmt.Printf("%-34s %-20s %-40s %s\n", "DEVICE ID", "NAME", "URL", "PINNED FINGERPRINT")
		for _, p := range peers {
			fp := p.CertificateFingerprint
			if fp == "" {
				fp = "<unpinned>"
			}
			fmt.Printf("%-34s %-20s %-40s %s\n", p.PeerID, p.PeerName, p.PeerURL, fp)
		}
		return nil
	},
}

var peerRemoveCmd = &cobra.Command{
	Use:   "remove DEVICE_ID",
	Short: "Remove a configured peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		removed, err := cfg.RemovePeer(args[0])
		if err != nil {
			return fmt.Errorf("failed to remove peer: %w", err)
		}
		if !removed {
			fmt.Println("No such peer configured")
			return nil
		}
		fmt.Println("✓ Peer removed")
		return nil
	},
}

var syncNowCmd = &cobra.Command{
	Use:   "sync-now DEVICE_ID",
	Short: "Run a full pull-then-push sync against one peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeerClient(cmd, args[0], func(c *syncclient.Client, peer config.Peer) syncclient.PeerResult {
			return c.SyncWithPeer(context.Background(), peer)
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull DEVICE_ID",
	Short: "Pull changes from one peer without pushing local changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeerClient(cmd, args[0], func(c *syncclient.Client, peer config.Peer) syncclient.PeerResult {
			return c.PullFromPeer(context.Background(), peer)
		})
	},
}

var pushCmd = &cobra.Command{
	Use:   "push DEVICE_ID",
	Short: "Push local changes to one peer without pulling its changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPeerClient(cmd, args[0], func(c *syncclient.Client, peer config.Peer) syncclient.PeerResult {
			return c.PushToPeer(context.Background(), peer)
		})
	},
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	dir, _ := cmd.Flags().GetString("config-dir")
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withPeerClient resolves peer by device id, opens the local store, and
// runs fn against a fresh syncclient.Client, printing the PeerResult.
func withPeerClient(cmd *cobra.Command, peerID string, fn func(*syncclient.Client, config.Peer) syncclient.PeerResult) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	peer, ok := cfg.GetPeer(peerID)
	if !ok {
		return fmt.Errorf("no such peer configured: %s", peerID)
	}

	deviceID, err := cfg.DeviceID()
	if err != nil {
		return fmt.Errorf("invalid device id in config: %w", err)
	}

	db, err := store.Open(cfg.DatabaseFile(), deviceID)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer db.Close()

	conflicts := conflict.New(db)
	reconciler := reconcile.New(db, conflicts, zerolog.Nop())
	client := syncclient.New(cfg, db, reconciler, zerolog.Nop())

	result := fn(client, peer)
	if result.Err != nil {
		return fmt.Errorf("sync with %s failed: %w", peerID, result.Err)
	}

	fmt.Printf("✓ Sync with %s completed\n", peerID)
	fmt.Printf("  Applied: %d\n", result.Applied)
	fmt.Printf("  Conflicts: %d\n", result.Conflicts)
	fmt.Printf("  Pushed: %d\n", result.Pushed)
	return nil
}
