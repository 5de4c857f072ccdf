// Package main - agitator
// Load generator for stress testing: simulates many concurrent divers
// spamming inventory actions over WebSocket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
)

// Config for the agitator
type Config struct {
	ServerURL      string // WebSocket endpoint
	APIURL         string // REST base used to open sessions
	NumClients     int
	ActionInterval time.Duration
	TestDuration   time.Duration
}

// Stats tracks performance metrics
type Stats struct {
	ActionsSent    int64
	RepliesOK      int64
	RepliesFailed  int64
	EventsReceived int64
	Errors         int64
	Latencies      []time.Duration
	mu             sync.Mutex
}

var resources = []string{"scrap_metal", "copper_ore", "quartz", "kelp", "titanium"}

var recipes = []string{"Nails", "Cogs", "Wiring", "Glass", "Fiber Mesh", "Plate"}

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	apiURL := flag.String("api", "http://localhost:8080", "REST API base URL")
	numClients := flag.Int("clients", 50, "Number of concurrent clients")
	interval := flag.Duration("interval", 100*time.Millisecond, "Action interval per client")
	duration := flag.Duration("duration", 60*time.Second, "Test duration")
	flag.Parse()

	config := Config{
		ServerURL:      *serverURL,
		APIURL:         *apiURL,
		NumClients:     *numClients,
		ActionInterval: *interval,
		TestDuration:   *duration,
	}

	fmt.Println("=========================================")
	fmt.Println("🌊 AGITATOR - Tidal Miner Stress Test")
	fmt.Println("=========================================")
	fmt.Printf("Server: %s\n", config.ServerURL)
	fmt.Printf("Clients: %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.ActionInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("\n⚠️ Interrupt received, stopping...")
		cancel()
	}()

	stats := runStressTest(ctx, config)
	printResults(stats, config)
}

func runStressTest(ctx context.Context, config Config) *Stats {
	stats := &Stats{
		Latencies: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup

	fmt.Println("\n🚀 Starting clients...")
	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}
	fmt.Printf("✅ All %d clients started\n\n", config.NumClients)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Printf("📊 Progress: Sent=%s OK=%s Rejected=%s Events=%s Errors=%d\n",
					humanize.Comma(atomic.LoadInt64(&stats.ActionsSent)),
					humanize.Comma(atomic.LoadInt64(&stats.RepliesOK)),
					humanize.Comma(atomic.LoadInt64(&stats.RepliesFailed)),
					humanize.Comma(atomic.LoadInt64(&stats.EventsReceived)),
					atomic.LoadInt64(&stats.Errors))
			}
		}
	}()

	wg.Wait()
	return stats
}

// openSession creates a diver through the REST API.
func openSession(ctx context.Context, apiURL, name string) (string, error) {
	body, _ := json.Marshal(map[string]string{"player_name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var view struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return "", err
	}
	return view.SessionID, nil
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	sessionID, err := openSession(ctx, config.APIURL, fmt.Sprintf("DIVER_%03d", clientID))
	if err != nil {
		log.Printf("Client %d: session failed: %v", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}

	u, err := url.Parse(config.ServerURL)
	if err != nil {
		log.Printf("Client %d: URL parse error: %v", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	q := u.Query()
	q.Set("session", sessionID)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Printf("Client %d: Connection failed: %v", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	// Replies come back in the order actions were sent.
	inFlight := make(chan time.Time, 1024)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame struct {
				Type    string `json:"type"`
				Payload struct {
					OK bool `json:"ok"`
				} `json:"payload"`
			}
			if err := json.Unmarshal(data, &frame); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				continue
			}
			switch frame.Type {
			case "EVENT":
				atomic.AddInt64(&stats.EventsReceived, 1)
			case "REPLY", "ERROR":
				select {
				case sent := <-inFlight:
					stats.mu.Lock()
					stats.Latencies = append(stats.Latencies, time.Since(sent))
					stats.mu.Unlock()
				default:
				}
				if frame.Type == "REPLY" && frame.Payload.OK {
					atomic.AddInt64(&stats.RepliesOK, 1)
				} else {
					atomic.AddInt64(&stats.RepliesFailed, 1)
				}
			}
		}
	}()

	ticker := time.NewTicker(config.ActionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			action := generateRandomAction()
			select {
			case inFlight <- time.Now():
			default:
			}
			if err := conn.WriteJSON(action); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.ActionsSent, 1)
		}
	}
}

// generateRandomAction mostly collects, so crafts have something to consume.
func generateRandomAction() map[string]interface{} {
	roll := rand.Intn(10)
	switch {
	case roll < 5:
		return map[string]interface{}{
			"type": "COLLECT",
			"payload": map[string]interface{}{
				"item":   resources[rand.Intn(len(resources))],
				"amount": 1 + rand.Intn(3),
			},
		}
	case roll < 8:
		return map[string]interface{}{
			"type":    "CRAFT",
			"payload": map[string]interface{}{"recipe": recipes[rand.Intn(len(recipes))]},
		}
	case roll < 9:
		return map[string]interface{}{
			"type": "DROP",
			"payload": map[string]interface{}{
				"item":   resources[rand.Intn(len(resources))],
				"amount": 1,
			},
		}
	default:
		return map[string]interface{}{"type": "INVENTORY"}
	}
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("📊 STRESS TEST RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.ActionsSent)
	ok := atomic.LoadInt64(&stats.RepliesOK)
	rejected := atomic.LoadInt64(&stats.RepliesFailed)
	events := atomic.LoadInt64(&stats.EventsReceived)
	errs := atomic.LoadInt64(&stats.Errors)

	fmt.Printf("Actions Sent:      %s\n", humanize.Comma(sent))
	fmt.Printf("Replies OK:        %s\n", humanize.Comma(ok))
	fmt.Printf("Replies Rejected:  %s\n", humanize.Comma(rejected))
	fmt.Printf("Events Received:   %s\n", humanize.Comma(events))
	fmt.Printf("Errors:            %d\n", errs)
	fmt.Printf("Error Rate:        %.2f%%\n", float64(errs)/float64(sent+1)*100)

	throughput := float64(sent) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:        %.2f actions/sec\n", throughput)

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.Latencies...)
	stats.mu.Unlock()
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		fmt.Printf("\nRound trip:\n")
		fmt.Printf("  Min: %v\n", latencies[0])
		fmt.Printf("  Avg: %v\n", total/time.Duration(len(latencies)))
		fmt.Printf("  P99: %v\n", latencies[len(latencies)*99/100])
		fmt.Printf("  Max: %v\n", latencies[len(latencies)-1])
	}

	fmt.Println("\n-----------------------------------------")
	switch {
	case errs == 0 && ok > 0:
		fmt.Println("✅ TEST PASSED: System handled the load")
	case float64(errs)/float64(sent+1) < 0.05:
		fmt.Println("⚠️ TEST WARNING: Some errors detected")
	default:
		fmt.Println("❌ TEST FAILED: High error rate")
	}
	fmt.Println("=========================================")

	results := map[string]interface{}{
		"actions_sent":       sent,
		"replies_ok":         ok,
		"replies_rejected":   rejected,
		"events_received":    events,
		"errors":             errs,
		"throughput_per_sec": throughput,
		"config": map[string]interface{}{
			"clients":  config.NumClients,
			"interval": config.ActionInterval.String(),
			"duration": config.TestDuration.String(),
		},
	}

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	os.WriteFile("stress_test_results.json", jsonData, 0644)
	fmt.Println("\n📁 Results saved to stress_test_results.json")
}
