package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/XuF163/dingbridge/internal/bus"
	"github.com/XuF163/dingbridge/internal/channels/dingtalk"
	"github.com/XuF163/dingbridge/internal/config"
	"github.com/XuF163/dingbridge/internal/store"
)

// oneShot is a bot built for a single CLI call; its stream is never opened.
type oneShot struct {
	bot    *dingtalk.Bot
	stores *store.Stores
}

func (o *oneShot) Close() { o.stores.Close() }

func openOneShot(ctx context.Context, accountID string) (*oneShot, error) {
	setupLogging(verbose)
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	stores, err := openStores(cfg)
	if err != nil {
		return nil, fmt.Errorf("open binding store: %w", err)
	}
	svc := dingtalk.NewService(dingtalk.ServiceOptions{Bindings: stores.Bindings})
	if err := svc.Init(ctx, cfg); err != nil {
		stores.Close()
		return nil, err
	}
	bot, ok := svc.BotByAccountID(strings.TrimSpace(accountID))
	if !ok {
		stores.Close()
		return nil, fmt.Errorf("account %q is not configured or not enabled", accountID)
	}
	return &oneShot{bot: bot, stores: stores}, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func sendCmd() *cobra.Command {
	var (
		account, scene, peer, text string
		images                     []string
		preferOpenAPI              bool
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message once, without opening the stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			var elements []bus.MessageElement
			if text != "" {
				elements = append(elements, bus.MessageElement{Type: "text", Text: text})
			}
			for _, img := range images {
				elements = append(elements, bus.MessageElement{Type: "image", File: img})
			}
			if len(elements) == 0 {
				return fmt.Errorf("nothing to send: pass --text and/or --image")
			}

			ctx := cmd.Context()
			o, err := openOneShot(ctx, account)
			if err != nil {
				return err
			}
			defer o.Close()

			res, err := o.bot.SendMessage(ctx, dingtalk.DestinationFor(scene, peer), elements, dingtalk.SendOptions{PreferOpenAPI: preferOpenAPI})
			if res != nil {
				printJSON(res)
			}
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&scene, "scene", "group", "group or friend")
	cmd.Flags().StringVar(&peer, "peer", "", "conversation id (group) or user id (friend)")
	cmd.Flags().StringVar(&text, "text", "", "text content")
	cmd.Flags().StringArrayVar(&images, "image", nil, "image reference: path, http(s) URL, base64:// or data URL (repeatable)")
	cmd.Flags().BoolVar(&preferOpenAPI, "prefer-open-api", false, "try the OpenAPI before webhooks")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("peer")
	return cmd
}

func recallCmd() *cobra.Command {
	var account, scene, peer, id string
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Recall a message sent by the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			o, err := openOneShot(ctx, account)
			if err != nil {
				return err
			}
			defer o.Close()

			if !o.bot.RecallIn(ctx, dingtalk.DestinationFor(scene, peer), id) {
				return fmt.Errorf("recall of %s was not accepted", id)
			}
			fmt.Println("recalled")
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account id")
	cmd.Flags().StringVar(&scene, "scene", "group", "group or friend")
	cmd.Flags().StringVar(&peer, "peer", "", "conversation id (group) or user id (friend)")
	cmd.Flags().StringVar(&id, "id", "", "message id returned by send")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("id")
	return cmd
}
