package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/XuF163/dingbridge/internal/channels/dingtalk"
	"github.com/XuF163/dingbridge/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive wizard that adds a DingTalk account to the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard(resolveConfigPath())
		},
	}
}

func required(field string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func runOnboard(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var (
		acc        config.DingTalkAccount
		master     string
		enableSend bool
	)
	acc.AccountID = "main"

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Account id").Description("Short name; the bot becomes DingDing_<id>").
				Value(&acc.AccountID).Validate(required("account id")),
			huh.NewInput().Title("Client id (AppKey)").Value(&acc.ClientID).Validate(required("client id")),
			huh.NewInput().Title("Client secret (AppSecret)").EchoMode(huh.EchoModePassword).
				Value(&acc.ClientSecret).Validate(required("client secret")),
		),
		huh.NewGroup(
			huh.NewInput().Title("Robot code").Description("Optional; learned from the first message when empty").Value(&acc.RobotCode),
			huh.NewInput().Title("Corp id").Description("Optional; learned from callbacks when empty").Value(&acc.CorpID),
			huh.NewInput().Title("Bot name").Value(&acc.BotName),
			huh.NewConfirm().Title("Allow OpenAPI sends?").Description("Needed for direct messages without a session webhook").
				Value(&enableSend),
		),
		huh.NewGroup(
			huh.NewInput().Title("Fallback robot webhook").Description("Optional").Value(&acc.Webhook),
			huh.NewInput().Title("Webhook signing secret").EchoMode(huh.EchoModePassword).Value(&acc.WebhookSecret),
			huh.NewInput().Title("Master user id").Description("Optional; allowed to run #ding commands").Value(&master),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("onboarding cancelled")
			return nil
		}
		return err
	}

	acc.EnableOpenAPISend = enableSend
	valid, err := dingtalk.ValidateAccount(acc)
	if err != nil {
		return err
	}
	for _, existing := range cfg.Accounts {
		if existing.SelfID() == valid.SelfID() {
			return fmt.Errorf("account %q already exists in %s", valid.AccountID, cfgPath)
		}
	}

	cfg.EnableDingAdapter = true
	cfg.Accounts = append(cfg.Accounts, valid)
	if m := strings.TrimSpace(master); m != "" && !cfg.IsMaster(m) {
		cfg.Masters = append(cfg.Masters, m)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("Added %s to %s\n", valid.SelfID(), cfgPath)
	fmt.Println("Start the bridge with:  dingbridge serve")
	return nil
}
