package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pbaille/togglbot/internal/api"
	"github.com/pbaille/togglbot/internal/bot"
	"github.com/pbaille/togglbot/internal/classifier"
	"github.com/pbaille/togglbot/internal/config"
	"github.com/pbaille/togglbot/internal/envfile"
	"github.com/pbaille/togglbot/internal/gemini"
	"github.com/pbaille/togglbot/internal/telegram"
	"github.com/pbaille/togglbot/internal/toggl"
)

var configPath string

func main() {
	if err := envfile.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:   "togglbot",
		Short: "Telegram assistant bot for Toggl time tracking",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "togglbot.toml", "config file path")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(setWebhookCmd())
	rootCmd.AddCommand(clientsCmd())
	rootCmd.AddCommand(projectsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var registerWebhook bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			slog.SetDefault(log)

			if cfg.TelegramBotToken == "" {
				return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
			}

			model := gemini.New(cfg.GeminiAPIKey)
			if !model.Configured() {
				log.Warn("GEMINI_API_KEY not set, NLU features disabled")
			}

			tg := telegram.New(cfg.TelegramBotToken)
			router := bot.NewRouter(tg, toggl.New(cfg.TogglAPIKey), classifier.New(model), model, log)
			server := api.New(router, tg, cfg.WebhookURL, cfg.ListenAddr, log)

			// Register the webhook at startup when a public URL is known.
			// Failure is logged, not fatal: /set_webhook remains available.
			if registerWebhook && cfg.WebhookURL != "" {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				if err := tg.SetWebhook(ctx, cfg.WebhookURL); err != nil {
					log.Error("webhook registration failed", "error", err)
				} else {
					log.Info("webhook registered", "url", cfg.WebhookURL)
				}
			}

			return server.Run()
		},
	}

	cmd.Flags().BoolVar(&registerWebhook, "register-webhook", true, "register WEBHOOK_URL with Telegram at startup")
	return cmd
}

func setWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-webhook",
		Short: "Register the webhook URL with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.WebhookURL == "" {
				return fmt.Errorf("WEBHOOK_URL not set")
			}

			tg := telegram.New(cfg.TelegramBotToken)
			if err := tg.SetWebhook(cmd.Context(), cfg.WebhookURL); err != nil {
				return err
			}

			fmt.Printf("Webhook set to %s\n", cfg.WebhookURL)
			return nil
		},
	}
}

func clientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clients",
		Short: "List Toggl clients in the default workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			track := toggl.New(cfg.TogglAPIKey)
			workspaceID, err := track.Workspace(cmd.Context())
			if err != nil {
				return err
			}

			clients, err := track.Clients(cmd.Context(), workspaceID)
			if err != nil {
				return err
			}
			if len(clients) == 0 {
				fmt.Println("No Toggl clients found.")
				return nil
			}

			for _, c := range clients {
				fmt.Printf("%d  %s\n", c.ID, c.Name)
			}
			return nil
		},
	}
}

func projectsCmd() *cobra.Command {
	var clientID int64

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List Toggl projects, optionally filtered by client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			track := toggl.New(cfg.TogglAPIKey)
			workspaceID, err := track.Workspace(cmd.Context())
			if err != nil {
				return err
			}

			var filter *int64
			if clientID != 0 {
				filter = &clientID
			}
			projects, err := track.Projects(cmd.Context(), workspaceID, filter)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Println("No projects found.")
				return nil
			}

			for _, p := range projects {
				if p.ClientID != nil {
					fmt.Printf("%d  %s  (client %d)\n", p.ID, p.Name, *p.ClientID)
				} else {
					fmt.Printf("%d  %s\n", p.ID, p.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&clientID, "client", 0, "filter by client id")
	return cmd
}
