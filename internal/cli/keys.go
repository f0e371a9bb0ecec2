package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dagucloud/scriptd/internal/auth"
	"github.com/dagucloud/scriptd/internal/config"
)

func keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys offline, without a running daemon",
	}
	cmd.AddCommand(keysCreateCommand())
	cmd.AddCommand(keysListCommand())
	cmd.AddCommand(keysRevokeCommand())
	return cmd
}

func openKeyStore() (*auth.FileStore, error) {
	cfg, err := config.Load(newViper())
	if err != nil {
		return nil, err
	}
	return auth.NewFileStore(cfg.Auth.KeyFilePath)
}

func keysCreateCommand() *cobra.Command {
	var perms []string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new API key and print its token once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(perms) == 0 {
				return usageError{fmt.Errorf("at least one --permission is required")}
			}
			parsed := make([]auth.Permission, 0, len(perms))
			for _, p := range perms {
				perm, err := auth.ParsePermission(p)
				if err != nil {
					return usageError{err}
				}
				parsed = append(parsed, perm)
			}

			store, err := openKeyStore()
			if err != nil {
				return err
			}

			token, err := auth.GenerateToken()
			if err != nil {
				return err
			}
			key, err := auth.NewAPIKey(args[0], auth.NewPermissionSet(parsed...), token)
			if err != nil {
				return err
			}
			if err := store.Create(context.Background(), key); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "id:    %s\ntoken: %s\n", key.ID, token)
			fmt.Fprintln(cmd.OutOrStdout(), "store this token now, it will not be shown again")
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&perms, "permission", nil, "permission to grant (read, execute, admin); repeatable")
	return cmd
}

func keysListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyStore()
			if err != nil {
				return err
			}
			keys, err := store.List(context.Background())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%v\n", k.ID, k.Name, k.Masked(), k.Permissions.Slice())
			}
			return nil
		},
	}
}

func keysRevokeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke an API key by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openKeyStore()
			if err != nil {
				return err
			}
			return store.Delete(context.Background(), args[0])
		},
	}
}
