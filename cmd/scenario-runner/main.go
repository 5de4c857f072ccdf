// Package main - scenario-runner
// Executable to run the inventory scenarios end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/platform/config"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/test"
)

func main() {
	seed := flag.Int64("seed", time.Now().UnixNano(), "Seed for randomized scenarios")
	verbose := flag.Bool("v", false, "Log engine activity")
	flag.Parse()

	fmt.Println("🌊 TIDAL MINER - INVENTORY SCENARIO SUITE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Seed: %d\n", *seed)

	log := logger.NewDiscard()
	if *verbose {
		log = logger.NewLogger()
	}
	suite, err := test.NewScenarioSuite(log, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup failed: %v\n", err)
		os.Exit(1)
	}

	results := suite.RunAll(context.Background())
	passed, failed := 0, 0
	for _, r := range results {
		if r.Passed {
			passed++
			fmt.Printf("   ✅ %s\n", r.ScenarioName)
			continue
		}
		failed++
		fmt.Printf("   ❌ %s\n      expected: %s\n      actual:   %s\n      reason:   %s\n",
			r.ScenarioName, r.Expected, r.Actual, r.Reason)
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("📊 SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("   Passed: %d\n", passed)
	fmt.Printf("   Failed: %d\n", failed)

	if rec := config.Analyze(suite.Metrics().Snapshot()); len(rec.Notes) > 0 {
		fmt.Println("\nTuning notes:")
		for _, note := range rec.Notes {
			fmt.Printf("   - %s\n", note)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}
