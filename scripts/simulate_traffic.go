// Demo walkthrough against a locally running engine: a routine purchase, a
// high-amount attempt, then a burst on one card to show a sliding-window rule
// tipping from APPROVE to DECLINE.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stratuspay/fraudengine/pkg/sdk"
)

func main() {
	client := sdk.NewClient(sdk.Config{BaseURL: "http://localhost:8080"})
	ctx := context.Background()

	if err := client.Ready(ctx); err != nil {
		log.Fatalf("engine not ready: %v", err)
	}
	fmt.Println("Engine ready. Submitting sample traffic...")

	// 1. A routine grocery purchase.
	show(submit(ctx, client, "demo-groceries", "card-alpha", 84.90, "5411"))

	// 2. A large electronics purchase, the kind amount rules watch.
	show(submit(ctx, client, "demo-big-ticket", "card-alpha", 18500.00, "5732"))

	// 3. Rapid fire on one card. Watch the velocity counts climb until the
	// window threshold tips the decision.
	fmt.Println("\nBurst on card-burst:")
	for i := 0; i < 8; i++ {
		d, err := submit(ctx, client, fmt.Sprintf("demo-burst-%d", i), "card-burst", 120.00, "5812")
		if err != nil {
			log.Fatalf("submit: %v", err)
		}
		line := fmt.Sprintf("  #%d %s", i+1, d.Action)
		for _, vr := range d.VelocityResults {
			line += fmt.Sprintf("  [%s=%s count=%d/%d]", vr.Dimension, vr.DimensionValue, vr.Count, vr.Threshold)
		}
		fmt.Println(line)
		time.Sleep(100 * time.Millisecond)
	}
}

func submit(ctx context.Context, client *sdk.Client, txID, card string, amount float64, mcc string) (*sdk.Decision, error) {
	return client.EvaluateAuth(ctx, &sdk.Transaction{
		TransactionID:        txID,
		CardHash:             card,
		Amount:               amount,
		Currency:             "BRL",
		CountryCode:          "BR",
		MerchantCategoryCode: mcc,
		CardNetwork:          "VISA",
		CardBIN:              "411111",
		Timestamp:            time.Now().UTC(),
	})
}

func show(d *sdk.Decision, err error) {
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("\n%s -> %s (mode=%s, ruleset=%s v%d, %.2fms)\n",
		d.TransactionID, d.Action, d.EngineMode, d.RulesetKey, d.RulesetVersion, d.ProcessingTimeMs)
	for _, m := range d.MatchedRules {
		fmt.Printf("  matched %s (%s) %s\n", m.RuleID, m.Action, m.Reason)
	}
}
