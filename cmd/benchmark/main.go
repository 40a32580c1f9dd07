package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	partyCount  int
)

// Metrics
var (
	totalRequests uint64
	success201    uint64 // Created
	fail422       uint64 // Business rejections (insufficient funds etc.)
	fail404       uint64 // Unknown party/shop
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.IntVar(&partyCount, "parties", 100, "Number of distinct parties to spread load over")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark | Workers: %d | Duration: %s | Parties: %d",
		concurrency, duration, partyCount)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		partyID := fmt.Sprintf("party-%d", rand.Intn(partyCount)+1)
		shopID := fmt.Sprintf("shop-%d", rand.Intn(3)+1)

		payload := map[string]interface{}{
			"party_id":      partyID,
			"shop_id":       shopID,
			"amount":        int64(100),
			"currency_code": "USD",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/payouts", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		case 404:
			atomic.AddUint64(&fail404, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	f422 := atomic.LoadUint64(&fail422)
	f404 := atomic.LoadUint64(&fail404)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"rejected":        f422,
		"not_found":       f404,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	file, _ := os.Create("results_payouts.json")
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
