// Package main is a runnable demonstration of the posthog client library.
//
// The bootstrap sequence is:
//  1. Construct a Client from POSTHOG_API_KEY (and, if set,
//     POSTHOG_PERSONAL_API_KEY for local flag evaluation).
//  2. Capture a few events and evaluate a flag for a synthetic subject.
//  3. Wait for SIGINT/SIGTERM, or for the demo sequence to finish, then
//     flush and shut down.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matt-riley/posthog-go"
	"github.com/matt-riley/posthog-go/internal/ingest"
)

func main() {
	if err := run(); err != nil {
		log.Printf("demo failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	apiKey := os.Getenv("POSTHOG_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("POSTHOG_API_KEY must be set")
	}

	opts := []posthog.Option{
		posthog.WithOnError(func(status int, message string) {
			log.Printf("posthog error (status=%d): %s", status, message)
		}),
	}
	if personalKey := os.Getenv("POSTHOG_PERSONAL_API_KEY"); personalKey != "" {
		opts = append(opts, posthog.WithPersonalAPIKey(personalKey))
	}

	client, err := posthog.New(apiKey, opts...)
	if err != nil {
		return fmt.Errorf("construct client: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runDemoSequence(client)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	client.Flush()
	client.Shutdown()
	return nil
}

func runDemoSequence(client *posthog.Client) {
	const subjectID = "demo-user-1"

	client.Identify(ingest.IdentifyInput{
		SubjectID: subjectID,
		Properties: map[string]any{
			"plan": "trial",
		},
	})

	client.Capture(ingest.CaptureInput{
		SubjectID: subjectID,
		EventName: "demo_started",
		Properties: map[string]any{
			"source": "cmd/posthogdemo",
		},
	})

	enabled := client.FlagEnabled("new-checkout-flow", subjectID, nil, map[string]any{"plan": "trial"}, nil)
	log.Printf("new-checkout-flow enabled for %s: %v", subjectID, enabled)

	client.Capture(ingest.CaptureInput{
		SubjectID: subjectID,
		EventName: "demo_finished",
		FeatureVariants: map[string]any{
			"new-checkout-flow": enabled,
		},
	})

	time.Sleep(100 * time.Millisecond)
}
