// Command demo is a CLI entry point exercising the Run Orchestrator end to
// end against an in-memory store, printing each dispatched frame to
// stdout as it arrives.
//
// Basic usage:
//
//	demo run --message "what's the weather like on mars?"
//
// Configuration is read from the process environment (see config.Load),
// optionally pre-loaded from a local .env file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/advantch/agentrun/config"
	"github.com/advantch/agentrun/connmanager"
	"github.com/advantch/agentrun/connmanager/local"
	"github.com/advantch/agentrun/core"
	"github.com/advantch/agentrun/model/anthropic"
	"github.com/advantch/agentrun/orchestrator"
	"github.com/advantch/agentrun/runctx"
	"github.com/advantch/agentrun/store/memstore"
	"github.com/advantch/agentrun/telemetry"
	"github.com/advantch/agentrun/tools"
	"github.com/advantch/agentrun/tools/endrun"
	"github.com/advantch/agentrun/tools/toolrunner"
	"github.com/advantch/agentrun/tools/webbrowser"
)

const demoChannelID = "demo-channel"
const demoAgentID = "demo-agent"

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run Orchestrator demo CLI",
		Long: `demo drives one Run Orchestrator execution against an in-memory
store and an in-process Connection Manager, printing every dispatched
frame to stdout.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var (
		message  string
		threadID string
		maxSteps int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one run against the local-flavor orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), message, threadID, maxSteps)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "hello!", "the triggering user message")
	cmd.Flags().StringVar(&threadID, "thread", "", "thread id to continue, or empty to start a new one")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "override the demo agent's max_steps (0 uses the default)")
	return cmd
}

// runOnce wires an Orchestrator against an in-memory Backend and a single
// local Connection Manager channel, executes one trigger, and prints every
// frame the Dispatcher broadcasts as it happens.
func runOnce(ctx context.Context, message, threadID string, maxSteps int) error {
	settings := config.Load()
	log := telemetry.NewSlogLogger(nil)

	modelClient, err := anthropic.NewFromAPIKey(settings.AnthropicAPIKey, settings.AnthropicModel)
	if err != nil {
		return fmt.Errorf("build model client: %w", err)
	}

	registry := tools.NewRegistry()
	if err := registry.Register(webbrowser.New(http.DefaultClient, webbrowser.DefaultMaxBytes)); err != nil {
		return fmt.Errorf("register web_browser toolkit: %w", err)
	}
	if err := registry.Register(endrun.New()); err != nil {
		return fmt.Errorf("register end_run toolkit: %w", err)
	}

	backend := memstore.New()
	backend.SeedAgent(core.AgentConfig{
		ID:           demoAgentID,
		Name:         "Demo Assistant",
		Mode:         core.ModeLocal,
		Model:        settings.AnthropicModel,
		Instructions: "You are a concise, helpful assistant. Call end_run once you have answered.",
		Toolkits:     []string{webbrowser.ToolkitID, endrun.ToolkitID},
		MaxSteps:     maxSteps,
	})

	manager := local.New()
	printer := connmanager.SubscriberFunc(printFrame)
	if err := manager.Connect(ctx, demoChannelID, printer); err != nil {
		return fmt.Errorf("connect frame printer: %w", err)
	}

	o := &orchestrator.Orchestrator{
		Stores:     backend.Bundle(),
		Tools:      registry,
		ToolRunner: toolrunner.New(registry),
		Model:      modelClient,
		Manager:    manager,
		Registry:   runctx.NewRegistry(),
		Telemetry:  telemetry.Bundle{Log: log, Metrics: telemetry.NewNoopMetrics(), Tracer: telemetry.NewNoopTracer()},
	}

	run, err := o.Execute(ctx, orchestrator.Trigger{
		ThreadID:  threadID,
		AgentID:   demoAgentID,
		ChannelID: demoChannelID,
		UserText:  message,
	})
	if err != nil {
		return fmt.Errorf("execute run: %w", err)
	}

	fmt.Printf("\nrun %s finished status=%s thread=%s tokens=%d credits=%.3f\n",
		run.ID, run.Status, run.ThreadID, run.Usage.TotalTokens, run.Metadata.Credits)
	return nil
}

// printFrame renders one dispatcher.Frame as a single line of JSON, the
// same wire shape a real subscriber (WebSocket, SSE) would receive.
func printFrame(ctx context.Context, frame any) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
