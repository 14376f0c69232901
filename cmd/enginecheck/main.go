// Pre-flight diagnostic for a fraud engine deployment. Verifies the startup
// gate, loaded rulesets, breaker state, and the decision path end to end
// using a side-effect-free replay, then exits non-zero on any failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stratuspay/fraudengine/pkg/sdk"
)

type component struct {
	Name string
	Test func(ctx context.Context) error
}

func main() {
	engineURL := flag.String("url", "http://localhost:8080", "Engine base URL")
	flag.Parse()

	client := sdk.NewClient(sdk.Config{BaseURL: *engineURL, Timeout: 5 * time.Second})

	fmt.Println("Fraud Decision Engine - Pre-Flight Diagnostic")
	fmt.Println("---------------------------------------------------------")

	components := []component{
		{"Readiness gate", func(ctx context.Context) error {
			return client.Ready(ctx)
		}},
		{"Ruleset registry", func(ctx context.Context) error {
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			if len(status.Rulesets) == 0 {
				return errors.New("no rulesets loaded")
			}
			return nil
		}},
		{"Velocity breaker", func(ctx context.Context) error {
			status, err := client.Status(ctx)
			if err != nil {
				return err
			}
			if status.VelocityBreaker != "CLOSED" {
				return fmt.Errorf("breaker is %s", status.VelocityBreaker)
			}
			return nil
		}},
		{"Decision path (replay)", func(ctx context.Context) error {
			d, err := client.Replay(ctx, &sdk.Transaction{
				TransactionID: fmt.Sprintf("preflight-%d", time.Now().UnixNano()),
				CardHash:      "preflight-card",
				Amount:        1.00,
				Currency:      "BRL",
				CountryCode:   "BR",
				CardNetwork:   "VISA",
				Timestamp:     time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			if d.Action == "" {
				return errors.New("envelope has no decision")
			}
			if d.EngineMode != sdk.ModeReplay {
				return fmt.Errorf("expected REPLAY mode, got %s", d.EngineMode)
			}
			return nil
		}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	failed := 0
	for _, c := range components {
		fmt.Printf("Checking %-25s ", c.Name+"...")
		if err := c.Test(ctx); err != nil {
			failed++
			fmt.Println("\033[31m[FAIL]\033[0m")
			fmt.Printf("  >> Error: %v\n", err)
		} else {
			fmt.Println("\033[32m[OK]\033[0m")
		}
	}

	fmt.Println("---------------------------------------------------------")
	if failed > 0 {
		fmt.Printf("Status: %d check(s) failed.\n", failed)
		os.Exit(1)
	}

	if status, err := client.Status(ctx); err == nil {
		for _, rs := range status.Rulesets {
			fmt.Printf("  %s/%s v%d (%d rules)\n", rs.Country, rs.RulesetKey, rs.Version, rs.RuleCount)
		}
	}
	fmt.Println("Status: engine ready for authorization traffic.")
}
