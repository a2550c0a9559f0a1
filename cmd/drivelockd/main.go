// drivelockd is the workstation agent that coordinates document locks
// between local CAD editors and the managed drive backend.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cadvault/drivelock/internal/agent"
	"github.com/cadvault/drivelock/internal/bridge"
	"github.com/cadvault/drivelock/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "drivelockd",
		Short:         "Document lock coordinator for the managed drive",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(releaseCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(tokenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadCore(ctx context.Context) (*agent.Core, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return agent.NewCore(ctx, cfg)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <path>",
		Short: "Show the lock status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, err := loadCore(ctx)
			if err != nil {
				return err
			}
			svc, err := core.RemoteService(ctx)
			if err != nil {
				return err
			}

			path := args[0]
			tracked, err := svc.Contains(ctx, path)
			if err != nil {
				return err
			}
			if !tracked {
				fmt.Printf("%s: not on the managed drive\n", path)
				return nil
			}

			entry, err := svc.Entry(ctx, path)
			if err != nil {
				return err
			}
			fmt.Printf("%s: last modified %s (%d bytes)\n", entry.Name, entry.ModifiedTime.Format(time.RFC3339), entry.Size)

			lock, err := svc.GetFileInfo(ctx, path)
			if err != nil {
				return err
			}
			if lock == nil {
				fmt.Printf("%s: unlocked\n", path)
				return nil
			}
			owner := lock.OwnerName
			if owner == "" {
				owner = lock.Owner
			}
			fmt.Printf("%s: locked by %s since %s\n", path, owner, lock.LockedSince().Format(time.RFC3339))
			return nil
		},
	}
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <path>",
		Short: "Force-release a document lock regardless of owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, err := loadCore(ctx)
			if err != nil {
				return err
			}
			svc, err := core.RemoteService(ctx)
			if err != nil {
				return err
			}
			if err := svc.ForceUnlock(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("released lock on %s\n", args[0])
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	var folderID string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize drive access and store the encrypted refresh token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			core, err := loadCore(ctx)
			if err != nil {
				return err
			}

			state := uuid.NewString()
			fmt.Println("Visit the URL below, grant access, and paste the code here:")
			fmt.Println(core.Credentials.AuthURL(state))
			fmt.Print("Code: ")

			reader := bufio.NewReader(cmd.InOrStdin())
			code, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read authorization code: %w", err)
			}

			token, err := core.Credentials.ExchangeCode(ctx, trimLine(code))
			if err != nil {
				return err
			}
			if err := core.Credentials.Save(ctx, core.WorkstationID, token); err != nil {
				return err
			}
			if folderID != "" {
				if err := core.Credentials.UpdateBaseFolder(ctx, core.WorkstationID, folderID); err != nil {
					return err
				}
			}
			fmt.Printf("stored credentials for workstation %s\n", core.WorkstationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&folderID, "folder", "", "drive folder ID for the managed document tree")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an editor plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(cmd.Context())
			if err != nil {
				return err
			}
			token, err := bridge.IssueToken(core.BridgeSecret(), core.WorkstationID, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func trimLine(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
