// Benchmark tool for load testing Kestrel narrative generation.
//
// Usage:
//
//	go run cmd/benchmark/main.go -cases /path/to/cases.jsonl -url http://localhost:8080
//
// This tool:
//  1. Reads case requests from a JSONL file, one GenerateRequest per line,
//     optionally labelled with "expected_typology"
//  2. Sends each case to POST /cases with a pool of workers
//  3. Reports latency percentiles, fallback ratio and typology distribution
//  4. Scores typology accuracy for labelled lines
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BenchmarkCase is one JSONL line.
type BenchmarkCase struct {
	CustomerName      string `json:"customer_name"`
	AccountNumber     string `json:"account_number,omitempty"`
	Transactions      string `json:"transactions"`
	AdditionalContext string `json:"additional_context,omitempty"`
	PriorCases        int    `json:"prior_cases,omitempty"`

	// ExpectedTypology labels the case for accuracy scoring. Not sent.
	ExpectedTypology string `json:"expected_typology,omitempty"`
}

// GenerateResponse is the subset of the POST /cases response used here.
type GenerateResponse struct {
	CaseID     string `json:"case_id"`
	RiskScore  int    `json:"risk_score"`
	Typology   string `json:"typology"`
	Fallback   bool   `json:"fallback"`
	Escalation struct {
		Priority string `json:"priority"`
	} `json:"escalation"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TotalProcessed int64
	TotalErrors    int64
	TotalFallback  int64

	Labelled int64
	Correct  int64

	mu         sync.Mutex
	latencies  []time.Duration
	typologies map[string]int
	priorities map[string]int
}

func newMetrics() *Metrics {
	return &Metrics{
		typologies: make(map[string]int),
		priorities: make(map[string]int),
	}
}

func (m *Metrics) observe(c BenchmarkCase, res *GenerateResponse, elapsed time.Duration) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	if res.Fallback {
		atomic.AddInt64(&m.TotalFallback, 1)
	}
	if c.ExpectedTypology != "" {
		atomic.AddInt64(&m.Labelled, 1)
		if strings.EqualFold(c.ExpectedTypology, res.Typology) {
			atomic.AddInt64(&m.Correct, 1)
		}
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, elapsed)
	m.typologies[res.Typology]++
	m.priorities[res.Escalation.Priority]++
	m.mu.Unlock()
}

func main() {
	// Parse flags
	casesPath := flag.String("cases", "", "Path to a JSONL file of case requests")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	analyst := flag.String("analyst", "benchmark", "Analyst ID for requests")
	limit := flag.Int("limit", 0, "Maximum cases to send (0 = all)")
	repeat := flag.Int("repeat", 1, "Send the case list this many times")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	timeout := flag.Duration("timeout", 3*time.Minute, "Per-request timeout")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *casesPath == "" {
		fmt.Println("Usage: benchmark -cases /path/to/cases.jsonl [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - SAR narrative generation")
	fmt.Printf("\nCases File:  %s\n", *casesPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Analyst ID:  %s\n", *analyst)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Repeat:      %d\n", *repeat)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("OK  Kestrel is healthy")

	cases, err := readCases(*casesPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read cases: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK  Loaded %d cases\n", len(cases))

	var all []BenchmarkCase
	for i := 0; i < max(*repeat, 1); i++ {
		all = append(all, cases...)
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(all, *baseURL, *analyst, *workers, *timeout, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readCases(path string, limit int) ([]BenchmarkCase, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cases []BenchmarkCase
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var c BenchmarkCase
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		cases = append(cases, c)

		if limit > 0 && len(cases) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cases, nil
}

func runBenchmark(cases []BenchmarkCase, baseURL, analyst string, numWorkers int, timeout time.Duration, verbose bool) *Metrics {
	metrics := newMetrics()

	work := make(chan BenchmarkCase, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: timeout}

			for c := range work {
				start := time.Now()
				result, err := generateCase(client, baseURL, analyst, c)
				elapsed := time.Since(start)

				if err != nil {
					atomic.AddInt64(&metrics.TotalProcessed, 1)
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", c.CustomerName, err)
					}
					continue
				}

				metrics.observe(c, result, elapsed)

				if verbose {
					mark := " "
					if c.ExpectedTypology != "" && !strings.EqualFold(c.ExpectedTypology, result.Typology) {
						mark = "x"
					}
					fmt.Printf("%s %-24.24s | Score: %3d | Typology: %-40.40s | Priority: %-8s | Fallback: %-5v | %dms\n",
						mark,
						c.CustomerName,
						result.RiskScore,
						result.Typology,
						result.Escalation.Priority,
						result.Fallback,
						elapsed.Milliseconds(),
					)
				}
			}
		}()
	}

	for _, c := range cases {
		work <- c
	}
	close(work)

	wg.Wait()

	return metrics
}

func generateCase(client *http.Client, baseURL, analyst string, c BenchmarkCase) (*GenerateResponse, error) {
	c.ExpectedTypology = ""

	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/cases", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Analyst-ID", analyst)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	ok := m.TotalProcessed - m.TotalErrors
	fmt.Printf("\nCASES\n")
	fmt.Printf("   Total Sent:       %d\n", m.TotalProcessed)
	fmt.Printf("   Succeeded:        %d\n", ok)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	if ok > 0 {
		fmt.Printf("   Fallback Ratio:   %.2f%% (%d)\n", 100*float64(m.TotalFallback)/float64(ok), m.TotalFallback)
	}

	sort.Slice(m.latencies, func(i, j int) bool { return m.latencies[i] < m.latencies[j] })
	fmt.Printf("\nLATENCY\n")
	fmt.Printf("   p50:              %s\n", percentile(m.latencies, 0.50))
	fmt.Printf("   p90:              %s\n", percentile(m.latencies, 0.90))
	fmt.Printf("   p99:              %s\n", percentile(m.latencies, 0.99))
	fmt.Printf("   max:              %s\n", percentile(m.latencies, 1.0))
	fmt.Printf("   Wall Time:        %s\n", duration.Round(time.Millisecond))
	if duration > 0 {
		fmt.Printf("   Throughput:       %.2f cases/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}

	fmt.Printf("\nTYPOLOGY DISTRIBUTION\n")
	printDistribution(m.typologies)

	fmt.Printf("\nPRIORITY DISTRIBUTION\n")
	printDistribution(m.priorities)

	if m.Labelled > 0 {
		fmt.Printf("\nTYPOLOGY ACCURACY\n")
		fmt.Printf("   Labelled:         %d\n", m.Labelled)
		fmt.Printf("   Correct:          %d (%.2f%%)\n", m.Correct, 100*float64(m.Correct)/float64(m.Labelled))
	}
	fmt.Println()
}

func printDistribution(counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		fmt.Printf("   %-44s %d\n", k, counts[k])
	}
}
