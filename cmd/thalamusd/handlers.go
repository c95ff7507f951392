// handlers.go implements the command handlers: config loading,
// controller construction, and event-stream rendering.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/thalamus/internal/config"
	"github.com/haasonsaas/thalamus/internal/controller"
	"github.com/haasonsaas/thalamus/internal/events"
	"github.com/haasonsaas/thalamus/internal/observability"
	"github.com/haasonsaas/thalamus/internal/provider"
	"github.com/haasonsaas/thalamus/internal/providers"
	"github.com/haasonsaas/thalamus/internal/turn"
)

// nopClient satisfies provider.Client for commands that never submit
// a turn (e.g. tail).
type nopClient struct{}

func (nopClient) Name() string { return "nop" }

func (nopClient) Complete(ctx context.Context, req provider.Request) (<-chan provider.Chunk, error) {
	return nil, turn.ErrNoProvider
}

func rootContext() context.Context { return context.Background() }

// buildController loads configuration and wires the provider transport
// selected on the command line, plus the observability stack (redacting
// logger, Prometheus metrics, and an OTLP tracer when OTEL_ENDPOINT is
// set).
func buildController(ctx context.Context, configPath string, flags commonFlags) (*controller.Controller, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := providers.New(ctx, flags.provider, cfg.ProviderEndpoint, os.Getenv("THALAMUS_API_KEY"))
	if err != nil {
		return nil, nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("THALAMUS_LOG_LEVEL"),
		Format: "text",
		Output: os.Stderr,
	})
	_, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "thalamus",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_ENDPOINT"),
		EnableInsecure: true,
	})
	go func() {
		<-ctx.Done()
		_ = shutdownTracer(context.Background())
	}()

	ctrl, err := controller.New(cfg, client,
		controller.WithLogger(logger.Slog()),
		controller.WithMetrics(observability.NewMetrics()),
	)
	if err != nil {
		return nil, nil, err
	}
	return ctrl, cfg, nil
}

func runTurn(ctx context.Context, configPath string, flags commonFlags, userText string) error {
	ctrl, _, err := buildController(ctx, configPath, flags)
	if err != nil {
		return err
	}
	stream, err := ctrl.SubmitTurn(ctx, userText)
	if err != nil {
		return err
	}
	return renderStream(stream, flags.jsonOutput)
}

func runRepl(ctx context.Context, configPath string, flags commonFlags) error {
	ctrl, cfg, err := buildController(ctx, configPath, flags)
	if err != nil {
		return err
	}

	// Announce prompt template edits; the renderer reads fresh per
	// turn, so an edit takes effect on the next submitted line.
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(cfg.PromptDir); werr == nil {
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
							fmt.Fprintf(os.Stderr, "[prompt updated: %s]\n", ev.Name)
						}
					case <-watcher.Errors:
					}
				}
			}()
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("> ")
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		stream, err := ctrl.SubmitTurn(ctx, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			fmt.Print("> ")
			continue
		}
		if err := renderStream(stream, flags.jsonOutput); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func runTail(ctx context.Context, configPath string, n int, jsonOutput bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Tail needs no provider; a controller would demand one, so read
	// the log through a throwaway no-op transport instead.
	ctrl, err := controller.New(cfg, nopClient{})
	if err != nil {
		return err
	}
	turns, err := ctrl.ReadChatTail(ctx, n)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		for _, t := range turns {
			if err := enc.Encode(t); err != nil {
				return err
			}
		}
		return nil
	}
	for _, t := range turns {
		fmt.Printf("%s  %-9s %s\n", t.TS, t.Role, t.Content)
	}
	return nil
}

// renderStream drains one turn's events. In JSON mode every event is
// printed verbatim; otherwise assistant deltas stream to stdout and
// the rest is summarized on stderr.
func renderStream(stream <-chan events.TurnEvent, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		for e := range stream {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	for e := range stream {
		switch e.Type {
		case events.TypeAssistantDelta:
			if p, ok := e.Payload.(events.AssistantDeltaPayload); ok {
				fmt.Print(p.Text)
			}
		case events.TypeAssistantStreamEnd:
			fmt.Println()
		case events.TypeNodeStart:
			if p, ok := e.Payload.(events.NodeStartPayload); ok {
				fmt.Fprintf(os.Stderr, "[%s]\n", p.StageID)
			}
		case events.TypeToolCall:
			if p, ok := e.Payload.(events.ToolCallPayload); ok {
				fmt.Fprintf(os.Stderr, "[tool %s]\n", p.Name)
			}
		case events.TypeTurnEndError:
			if p, ok := e.Payload.(events.TurnEndErrorPayload); ok {
				fmt.Fprintf(os.Stderr, "turn failed (%s): %s\n", p.Reason, p.Message)
			}
		case events.TypeWorldCommit:
			fmt.Fprintln(os.Stderr, "[world updated]")
		}
	}
	return nil
}
