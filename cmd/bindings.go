package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/XuF163/dingbridge/internal/config"
	"github.com/XuF163/dingbridge/internal/store"
)

const webhookColumnWidth = 56

func bindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Manage group webhook bindings in the configured store",
	}
	cmd.AddCommand(bindingsListCmd())
	cmd.AddCommand(bindingsBindCmd())
	cmd.AddCommand(bindingsUnbindCmd())
	return cmd
}

// withBindingStore loads config, opens the store and runs fn against it.
func withBindingStore(fn func(ctx context.Context, st store.WebhookBindingStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stores, err := openStores(cfg)
	if err != nil {
		return fmt.Errorf("open binding store: %w", err)
	}
	defer stores.Close()
	return fn(context.Background(), stores.Bindings)
}

func bindingsListCmd() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBindingStore(func(ctx context.Context, st store.WebhookBindingStore) error {
				entries, err := st.List(ctx, account)
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Println("no bindings")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					secret := ""
					if e.Secret != "" {
						secret = "yes"
					}
					updated := ""
					if e.UpdatedAt > 0 {
						updated = time.UnixMilli(e.UpdatedAt).Format(time.DateTime)
					}
					rows = append(rows, []string{e.AccountID, e.GroupID, truncateCells(e.Webhook, webhookColumnWidth), secret, updated})
				}
				printTable(os.Stdout, []string{"ACCOUNT", "GROUP", "WEBHOOK", "SIGNED", "UPDATED"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "only list bindings of this account")
	return cmd
}

func bindingsBindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bind <account> <group> <webhook> [secret]",
		Short: "Bind a robot webhook to a group",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 4 {
				secret = args[3]
			}
			return withBindingStore(func(ctx context.Context, st store.WebhookBindingStore) error {
				if err := st.Bind(ctx, args[0], args[1], args[2], secret); err != nil {
					return fmt.Errorf("bind: %w", err)
				}
				fmt.Printf("bound %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func bindingsUnbindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unbind <account> <group>",
		Short: "Remove a group binding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBindingStore(func(ctx context.Context, st store.WebhookBindingStore) error {
				ok, err := st.Unbind(ctx, args[0], args[1])
				if err != nil {
					return fmt.Errorf("unbind: %w", err)
				}
				if !ok {
					return fmt.Errorf("no binding for %s/%s", args[0], args[1])
				}
				fmt.Printf("unbound %s/%s\n", args[0], args[1])
				return nil
			})
		},
	}
}
