// Benchmark tool for testing Kestrel against synthetic labeled invoices.
//
// Usage:
//
//	go run cmd/benchmark/main.go -count 10000 -url http://localhost:8080
//
// This tool:
//  1. Generates synthetic invoices, a configurable share of them seeded
//     with known fraud patterns (inverted dates, round amounts, total
//     mismatches, duplicate numbers, missing tax IDs)
//  2. Sends each invoice to Kestrel for scoring
//  3. Compares Kestrel's verdict (severity above low) with the labels
//  4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledInvoice is one generated invoice with its ground-truth label.
type LabeledInvoice struct {
	Request EvaluateRequest
	IsFraud bool
	Pattern string
}

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	BusinessUnitID string         `json:"businessUnitId"`
	Type           string         `json:"type"`
	ExternalID     string         `json:"externalId,omitempty"`
	Counterparty   Counterparty   `json:"counterparty"`
	Amounts        Amounts        `json:"amounts"`
	LineItems      []LineItem     `json:"lineItems,omitempty"`
	IssueDate      string         `json:"issueDate,omitempty"`
	DueDate        string         `json:"dueDate,omitempty"`
	ParseFailed    bool           `json:"parseFailed,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Counterparty struct {
	Name  string `json:"name"`
	TaxID string `json:"taxId,omitempty"`
}

type Amounts struct {
	Total    float64 `json:"total"`
	Tax      float64 `json:"tax,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

type LineItem struct {
	Description string  `json:"description,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	DocumentID     string   `json:"documentId"`
	Score          float64  `json:"score"`
	Severity       string   `json:"severity"`
	TriggeredCodes []string `json:"triggeredCodes"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud scored above low
	FalsePositives int64 // Clean scored above low
	TrueNegatives  int64 // Clean scored low
	FalseNegatives int64 // Fraud scored low (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	count := flag.Int("count", 10000, "Number of invoices to generate")
	fraudRate := flag.Float64("fraud-rate", 0.1, "Share of invoices seeded with fraud patterns (0.0-1.0)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Int64("seed", 42, "RNG seed for reproducible runs")
	verbose := flag.Bool("verbose", false, "Print each invoice result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        KESTREL BENCHMARK - Synthetic Invoice Scoring          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Invoices:    %d\n", *count)
	fmt.Printf("Fraud Rate:  %.2f\n", *fraudRate)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Seed:        %d\n", *seed)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Generate labeled invoices
	fmt.Printf("\nGenerating %d invoices...\n", *count)
	invoices := generateInvoices(*count, *fraudRate, *seed)

	fraudCount := 0
	for _, inv := range invoices {
		if inv.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("✓ Generated %d invoices\n", len(invoices))
	fmt.Printf("  - Fraud: %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(invoices)))
	fmt.Printf("  - Clean: %d (%.2f%%)\n", len(invoices)-fraudCount, 100*float64(len(invoices)-fraudCount)/float64(len(invoices)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(invoices, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
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

var counterparties = []Counterparty{
	{Name: "Acme Industrial GmbH", TaxID: "DE811234567"},
	{Name: "Nordwind Logistics AB", TaxID: "SE556677889901"},
	{Name: "Meridian Office Supply Ltd", TaxID: "GB123456789"},
	{Name: "Delta Facility Services SRL", TaxID: "IT01234567890"},
	{Name: "Cobalt IT Consulting BV", TaxID: "NL812345678B01"},
	{Name: "Juniper Catering Oy", TaxID: "FI12345671"},
}

// Fraud pattern tags for verbose output.
const (
	patternInvertedDates = "inverted_dates"
	patternRoundAmount   = "round_amount"
	patternTotalMismatch = "total_mismatch"
	patternDuplicate     = "duplicate_number"
	patternNoTaxID       = "missing_tax_id"
	patternParseFailed   = "parse_failed"
)

// generateInvoices produces labeled invoices. Clean invoices have
// consistent totals, ordered dates, a tax ID, and non-round amounts.
// Fraud invoices get one or more seeded anomalies.
func generateInvoices(count int, fraudRate float64, seed int64) []LabeledInvoice {
	rng := rand.New(rand.NewSource(seed))
	invoices := make([]LabeledInvoice, 0, count)

	for i := 0; i < count; i++ {
		cp := counterparties[rng.Intn(len(counterparties))]

		// Non-round base amount
		net := 50 + rng.Float64()*9000
		net = float64(int(net*100)) / 100
		if int(net)%10 == 0 {
			net += 3.17
		}
		tax := float64(int(net*19)) / 100
		total := net + tax

		issue := time.Date(2025, time.Month(1+rng.Intn(6)), 1+rng.Intn(27), 0, 0, 0, 0, time.UTC)
		due := issue.AddDate(0, 0, 14+rng.Intn(30))

		req := EvaluateRequest{
			BusinessUnitID: "bu-benchmark",
			Type:           "invoice",
			ExternalID:     fmt.Sprintf("INV-%06d", i),
			Counterparty:   cp,
			Amounts:        Amounts{Total: total, Tax: tax, Currency: "EUR"},
			LineItems: []LineItem{
				{Description: "services rendered", Quantity: 1, UnitPrice: net, LineTotal: net},
			},
			IssueDate: issue.Format("2006-01-02"),
			DueDate:   due.Format("2006-01-02"),
		}

		inv := LabeledInvoice{Request: req}

		if rng.Float64() < fraudRate {
			inv.IsFraud = true
			switch rng.Intn(6) {
			case 0:
				inv.Pattern = patternInvertedDates
				inv.Request.IssueDate = due.Format("2006-01-02")
				inv.Request.DueDate = issue.Format("2006-01-02")
				inv.Request.Counterparty.TaxID = ""
			case 1:
				inv.Pattern = patternRoundAmount
				round := float64(1000 * (1 + rng.Intn(20)))
				inv.Request.Amounts = Amounts{Total: round, Currency: "EUR"}
				inv.Request.LineItems = nil
				inv.Request.Counterparty.TaxID = ""
			case 2:
				inv.Pattern = patternTotalMismatch
				inv.Request.Amounts.Total = total * 1.25
				inv.Request.Counterparty.TaxID = ""
			case 3:
				inv.Pattern = patternDuplicate
				inv.Request.ExternalID = "INV-DUP-0001"
				inv.Request.Counterparty.TaxID = ""
			case 4:
				inv.Pattern = patternNoTaxID
				inv.Request.Counterparty.TaxID = ""
				inv.Request.ParseFailed = true
			case 5:
				inv.Pattern = patternParseFailed
				inv.Request.ParseFailed = true
				inv.Request.LineItems = nil
				inv.Request.Amounts.Total = total * 1.2
			}
		}

		invoices = append(invoices, inv)
	}

	return invoices
}

func runBenchmark(invoices []LabeledInvoice, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LabeledInvoice, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for inv := range work {
				start := time.Now()
				result, err := evaluateInvoice(client, baseURL, tenantID, inv.Request)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", inv.Request.ExternalID, err)
					}
					continue
				}

				// Track actual labels
				if inv.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				// Calculate confusion matrix
				predicted := result.Severity != "low"
				actual := inv.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Amount: €%10.2f | Fraud: %-5v (%s) | Kestrel: %-6s (%.1f) | Codes: %v\n",
						status,
						inv.Request.ExternalID,
						inv.Request.Amounts.Total,
						inv.IsFraud,
						inv.Pattern,
						result.Severity,
						result.Score,
						result.TriggeredCodes,
					)
				}
			}
		}()
	}

	// Send work
	for _, inv := range invoices {
		work <- inv
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateInvoice(client *http.Client, baseURL, tenantID string, req EvaluateRequest) (*EvaluateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/documents/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Clean:      %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   RISKY        LOW")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of risky verdicts, how many were seeded fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of seeded fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f docs/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
