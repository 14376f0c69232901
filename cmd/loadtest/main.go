// Load generator for the fraud decision engine. Drives POST /v1/evaluate/auth
// with synthetic card traffic and reports latency percentiles, decision mix,
// and shed counts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratuspay/fraudengine/pkg/sdk"
)

type loadTestConfig struct {
	EngineURL       string
	NumTransactions int
	Concurrency     int
	ReportInterval  time.Duration
}

type loadTestStats struct {
	Total     atomic.Uint64
	Approved  atomic.Uint64
	Declined  atomic.Uint64
	Shed      atomic.Uint64
	Errors    atomic.Uint64
	NonNormal atomic.Uint64

	TotalDuration       time.Duration
	AvgLatency          time.Duration
	P95Latency          time.Duration
	P99Latency          time.Duration
	MaxLatency          time.Duration
	ThroughputPerSecond float64
}

func main() {
	engineURL := flag.String("url", "http://localhost:8080", "Engine base URL")
	numTxns := flag.Int("txns", 10000, "Number of authorizations to submit")
	concurrency := flag.Int("concurrency", 64, "Number of concurrent workers")
	reportInterval := flag.Duration("report", 5*time.Second, "Stats reporting interval")
	flag.Parse()

	config := loadTestConfig{
		EngineURL:       *engineURL,
		NumTransactions: *numTxns,
		Concurrency:     *concurrency,
		ReportInterval:  *reportInterval,
	}

	slog.Info("Starting auth load test",
		"url", config.EngineURL,
		"transactions", config.NumTransactions,
		"concurrency", config.Concurrency)

	client := sdk.NewClient(sdk.Config{BaseURL: config.EngineURL})
	if err := client.Ready(context.Background()); err != nil {
		slog.Error("Engine not ready", "error", err)
		return
	}

	stats := runLoadTest(client, config)
	printResults(stats)
}

func runLoadTest(client *sdk.Client, config loadTestConfig) *loadTestStats {
	stats := &loadTestStats{}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	txnChan := make(chan int, config.NumTransactions)
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportStats(ctx, stats, config.ReportInterval)

	startTime := time.Now()
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(workerID)))
			for txnID := range txnChan {
				submitAuth(ctx, client, rng, workerID, txnID, stats, &latencies, &latenciesMu)
			}
		}(i)
	}

	for i := 0; i < config.NumTransactions; i++ {
		txnChan <- i
	}
	close(txnChan)

	wg.Wait()
	totalDuration := time.Since(startTime)

	stats.TotalDuration = totalDuration
	stats.ThroughputPerSecond = float64(stats.Total.Load()) / totalDuration.Seconds()

	latenciesMu.Lock()
	if len(latencies) > 0 {
		stats.AvgLatency = average(latencies)
		stats.P95Latency = percentile(latencies, 95)
		stats.P99Latency = percentile(latencies, 99)
		stats.MaxLatency = slices.Max(latencies)
	}
	latenciesMu.Unlock()

	return stats
}

var (
	networks  = []string{"VISA", "MASTERCARD", "ELO"}
	mccs      = []string{"5411", "5812", "7995", "5967", "4829"}
	countries = []string{"BR", "BR", "BR", "MX", "CO"}
)

// submitAuth sends one synthetic authorization. Cards are drawn from a small
// pool so sliding-window rules actually accumulate counts during the run.
func submitAuth(
	ctx context.Context,
	client *sdk.Client,
	rng *rand.Rand,
	workerID, txnID int,
	stats *loadTestStats,
	latencies *[]time.Duration,
	latenciesMu *sync.Mutex,
) {
	tx := &sdk.Transaction{
		TransactionID:        fmt.Sprintf("lt-%d-%d", workerID, txnID),
		CardHash:             fmt.Sprintf("card-%03d", rng.Intn(200)),
		Amount:               float64(rng.Intn(500000)) / 100,
		Currency:             "BRL",
		CountryCode:          countries[rng.Intn(len(countries))],
		MerchantCategoryCode: mccs[rng.Intn(len(mccs))],
		CardNetwork:          networks[rng.Intn(len(networks))],
		CardBIN:              fmt.Sprintf("4%05d", rng.Intn(100000)),
		Timestamp:            time.Now().UTC(),
	}

	start := time.Now()
	d, err := client.EvaluateAuth(ctx, tx)
	latency := time.Since(start)

	stats.Total.Add(1)
	if err != nil {
		stats.Errors.Add(1)
		return
	}

	switch d.Action {
	case sdk.ActionApprove:
		stats.Approved.Add(1)
	case sdk.ActionDecline:
		stats.Declined.Add(1)
	}
	if d.LoadShed {
		stats.Shed.Add(1)
	}
	if d.EngineMode != sdk.ModeNormal {
		stats.NonNormal.Add(1)
	}

	latenciesMu.Lock()
	*latencies = append(*latencies, latency)
	latenciesMu.Unlock()
}

func reportStats(ctx context.Context, stats *loadTestStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("Progress",
				"total", stats.Total.Load(),
				"approved", stats.Approved.Load(),
				"declined", stats.Declined.Load(),
				"shed", stats.Shed.Load(),
				"errors", stats.Errors.Load())
		case <-ctx.Done():
			return
		}
	}
}

func printResults(stats *loadTestStats) {
	separator := "================================================================================"
	divider := "--------------------------------------------------------------------------------"
	total := stats.Total.Load()
	if total == 0 {
		fmt.Println("No transactions submitted.")
		return
	}

	fmt.Println("\n" + separator)
	fmt.Println("AUTH LOAD TEST RESULTS")
	fmt.Println(separator)
	fmt.Printf("Total Authorizations:   %d\n", total)
	fmt.Printf("Approved:               %d (%.2f%%)\n", stats.Approved.Load(), pct(stats.Approved.Load(), total))
	fmt.Printf("Declined:               %d (%.2f%%)\n", stats.Declined.Load(), pct(stats.Declined.Load(), total))
	fmt.Printf("Load Shed:              %d (%.2f%%)\n", stats.Shed.Load(), pct(stats.Shed.Load(), total))
	fmt.Printf("Degraded/Fail-open:     %d (%.2f%%)\n", stats.NonNormal.Load(), pct(stats.NonNormal.Load(), total))
	fmt.Printf("Transport Errors:       %d (%.2f%%)\n", stats.Errors.Load(), pct(stats.Errors.Load(), total))
	fmt.Println(divider)
	fmt.Printf("Total Duration:         %v\n", stats.TotalDuration)
	fmt.Printf("Throughput:             %.2f auth/sec\n", stats.ThroughputPerSecond)
	fmt.Println(divider)
	fmt.Printf("Latency (avg):          %v\n", stats.AvgLatency)
	fmt.Printf("Latency (p95):          %v\n", stats.P95Latency)
	fmt.Printf("Latency (p99):          %v\n", stats.P99Latency)
	fmt.Printf("Latency (max):          %v\n", stats.MaxLatency)
	fmt.Println(separator)

	if stats.P99Latency < 50*time.Millisecond {
		fmt.Println("PASS: P99 latency meets target (<50ms)")
	} else {
		fmt.Println("WARN: P99 latency above target (>50ms)")
	}

	errorRate := pct(stats.Errors.Load(), total)
	if errorRate < 1 {
		fmt.Println("PASS: Transport error rate below 1%")
	} else {
		fmt.Println("FAIL: Transport error rate above 1%")
	}
	fmt.Println(separator + "\n")
}

func pct(part, total uint64) float64 {
	return float64(part) / float64(total) * 100
}

func average(latencies []time.Duration) time.Duration {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
