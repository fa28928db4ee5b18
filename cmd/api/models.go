package main

import (
	"context"
	"fmt"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/capitalize-ai/chat-relay/internal/config"
	"github.com/capitalize-ai/chat-relay/internal/llm"
	"github.com/capitalize-ai/chat-relay/internal/model"
	natsclient "github.com/capitalize-ai/chat-relay/internal/nats"
	"github.com/capitalize-ai/chat-relay/internal/relay"
	"github.com/capitalize-ai/chat-relay/internal/service"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Print the ranked model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		client, err := newUpstreamClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.UpstreamTimeout)
		defer cancel()

		// Listing the catalog touches no storage.
		chat := service.NewChatService(nil, client, relay.New(), natsclient.NopPublisher{}, log)
		printModels(cmd, chat.Models(ctx))
		return nil
	},
}

func printModels(cmd *cobra.Command, options []model.ModelOption) {
	width := 0
	for _, o := range options {
		if w := runewidth.StringWidth(o.ID); w > width {
			width = w
		}
	}

	out := cmd.OutOrStdout()
	for _, o := range options {
		fmt.Fprintf(out, "%s  %s\n", runewidth.FillRight(o.ID, width), o.Label)
	}
}

func newUpstreamClient(cfg *config.Config) (*llm.OpenRouterClient, error) {
	client, err := llm.NewOpenRouterClient(llm.Config{
		BaseURL: cfg.OpenRouterBaseURL,
		APIKey:  cfg.OpenRouterAPIKey,
		Referer: cfg.OpenRouterReferer,
		Title:   cfg.OpenRouterTitle,
		Timeout: cfg.UpstreamTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream client: %w", err)
	}
	return client, nil
}
