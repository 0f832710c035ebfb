package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type benchResult struct {
	Timestamp       string         `json:"timestamp"`
	BaseURL         string         `json:"base_url"`
	ProductID       int64          `json:"product_id"`
	Buyers          int            `json:"buyers"`
	QuantityPerUser int            `json:"quantity_per_buyer"`
	Concurrency     int            `json:"concurrency"`
	Retries         int            `json:"retries"`
	Placed          int            `json:"placed"`
	Outcomes        map[string]int `json:"outcomes"`
	StatusCounts    map[string]int `json:"status_counts"`
	FirstError      string         `json:"first_error"`
	DurationSeconds float64        `json:"duration_seconds"`
	AvgLatencyMs    float64        `json:"avg_latency_ms"`
	MinLatencyMs    float64        `json:"min_latency_ms"`
	MaxLatencyMs    float64        `json:"max_latency_ms"`
	P50LatencyMs    float64        `json:"p50_latency_ms"`
	P90LatencyMs    float64        `json:"p90_latency_ms"`
	P95LatencyMs    float64        `json:"p95_latency_ms"`
	P99LatencyMs    float64        `json:"p99_latency_ms"`
	ThroughputRPS   float64        `json:"throughput_rps"`
	StockBefore     int            `json:"stock_before"`
	StockAfter      int            `json:"stock_after"`
	Oversold        bool           `json:"oversold"`
}

type metrics struct {
	mu           sync.Mutex
	placed       int
	latenciesMs  []float64
	outcomes     map[string]int
	statusCounts map[string]int
	firstError   string
}

func newMetrics() *metrics {
	return &metrics{
		outcomes:     make(map[string]int),
		statusCounts: make(map[string]int),
	}
}

func (m *metrics) record(status int, latency time.Duration, body string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCounts[strconv.Itoa(status)]++
	class := classify(status)
	m.outcomes[class]++
	if class == "placed" {
		m.placed++
	}
	m.latenciesMs = append(m.latenciesMs, float64(latency.Milliseconds()))
	if class != "placed" && m.firstError == "" {
		if err != nil {
			m.firstError = err.Error()
		} else {
			m.firstError = body
		}
	}
}

func main() {
	baseURL := flag.String("base-url", getenv("STOREFRONT_BASE_URL", "http://localhost:8080"), "storefront-service base URL")
	productID := flag.Int64("product", 1, "product every buyer competes for")
	buyers := flag.Int("buyers", 50, "number of distinct buyers")
	qty := flag.Int("qty", 1, "units per buyer")
	concurrency := flag.Int("concurrency", 50, "number of concurrent checkouts")
	retries := flag.Int("retries", 0, "resubmit retryable (503) checkouts up to n times")
	timeout := flag.Duration("timeout", 10*time.Second, "per-request timeout")
	userBase := flag.Int64("user-base", time.Now().Unix()%100000*1000, "first buyer id")
	output := flag.String("output", "", "optional output path for JSON result")
	flag.Parse()

	if *buyers <= 0 || *concurrency <= 0 || *qty <= 0 {
		fmt.Fprintln(os.Stderr, "buyers, concurrency and qty must be > 0")
		os.Exit(1)
	}

	client := &http.Client{Timeout: *timeout}
	api := apiClient{base: strings.TrimRight(*baseURL, "/"), http: client}

	// 1) Пробный покупатель держит одну единицу в корзине, чтобы видеть остаток.
	probe := *userBase
	if _, _, err := api.do(http.MethodPost, "/cart/items", probe, map[string]any{"product_id": *productID, "quantity": 1}, ""); err != nil {
		fmt.Fprintf(os.Stderr, "probe add failed: %v\n", err)
		os.Exit(1)
	}
	before, err := api.stock(probe, *productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe read failed: %v\n", err)
		os.Exit(1)
	}

	// 2) Корзины заполняются заранее; мягкая проверка может отклонить часть.
	users := make([]int64, 0, *buyers)
	for i := 1; i <= *buyers; i++ {
		u := *userBase + int64(i)
		code, _, err := api.do(http.MethodPost, "/cart/items", u, map[string]any{"product_id": *productID, "quantity": *qty}, "")
		if err == nil && code == http.StatusCreated {
			users = append(users, u)
		}
	}

	// 3) Одновременный checkout.
	m := newMetrics()
	tasks := make(chan int64)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range tasks {
				key := uuid.NewString()
				for attempt := 0; ; attempt++ {
					t0 := time.Now()
					code, body, err := api.do(http.MethodPost, "/checkout", u, nil, key)
					if code == http.StatusServiceUnavailable && attempt < *retries {
						continue
					}
					m.record(code, time.Since(t0), body, err)
					break
				}
			}
		}()
	}
	for _, u := range users {
		tasks <- u
	}
	close(tasks)
	wg.Wait()
	duration := time.Since(start)

	after, err := api.stock(probe, *productID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe read failed: %v\n", err)
		os.Exit(1)
	}
	_, _, _ = api.do(http.MethodDelete, "/cart/items/"+strconv.FormatInt(api.probeItem, 10), probe, nil, "")

	sorted := append([]float64(nil), m.latenciesMs...)
	sort.Float64s(sorted)
	avg, minL, maxL := summary(sorted)
	result := benchResult{
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		BaseURL:         *baseURL,
		ProductID:       *productID,
		Buyers:          len(users),
		QuantityPerUser: *qty,
		Concurrency:     *concurrency,
		Retries:         *retries,
		Placed:          m.placed,
		Outcomes:        m.outcomes,
		StatusCounts:    m.statusCounts,
		FirstError:      m.firstError,
		DurationSeconds: duration.Seconds(),
		AvgLatencyMs:    avg,
		MinLatencyMs:    minL,
		MaxLatencyMs:    maxL,
		P50LatencyMs:    percentile(sorted, 0.50),
		P90LatencyMs:    percentile(sorted, 0.90),
		P95LatencyMs:    percentile(sorted, 0.95),
		P99LatencyMs:    percentile(sorted, 0.99),
		ThroughputRPS:   float64(len(sorted)) / duration.Seconds(),
		StockBefore:     before,
		StockAfter:      after,
		Oversold:        oversold(before, after, m.placed, *qty),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode result: %v\n", err)
		os.Exit(1)
	}
	if *output != "" {
		if err := writeJSON(*output, result); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write output: %v\n", err)
			os.Exit(1)
		}
	}
	if result.Oversold {
		fmt.Fprintln(os.Stderr, "stock accounting mismatch: oversell detected")
		os.Exit(2)
	}
}

type apiClient struct {
	base      string
	http      *http.Client
	probeItem int64
}

func (c *apiClient) do(method, path string, user int64, payload any, idemKey string) (int, string, error) {
	var rd io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.base+path, rd)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", strconv.FormatInt(user, 10))
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

// stock reads the live stock of productID through the probe user's cart.
func (c *apiClient) stock(user, productID int64) (int, error) {
	code, body, err := c.do(http.MethodGet, "/cart", user, nil, "")
	if err != nil {
		return 0, err
	}
	if code != http.StatusOK {
		return 0, fmt.Errorf("status %d: %s", code, body)
	}
	var cart struct {
		Items []struct {
			ID            int64 `json:"id"`
			ProductID     int64 `json:"product_id"`
			StockQuantity int   `json:"stock_quantity"`
		} `json:"items"`
	}
	if err := json.Unmarshal([]byte(body), &cart); err != nil {
		return 0, err
	}
	for _, it := range cart.Items {
		if it.ProductID == productID {
			c.probeItem = it.ID
			return it.StockQuantity, nil
		}
	}
	return 0, fmt.Errorf("product %d not in probe cart", productID)
}

func classify(status int) string {
	switch status {
	case http.StatusCreated, http.StatusOK:
		return "placed"
	case http.StatusConflict:
		return "insufficient_stock"
	case http.StatusServiceUnavailable:
		return "retryable"
	case http.StatusUnprocessableEntity:
		return "rejected"
	case 0:
		return "transport"
	}
	if status >= 500 {
		return "http_5xx"
	}
	return "http_4xx"
}

// oversold reports whether stock moved by anything other than what placed
// orders account for, or went below zero.
func oversold(before, after, placed, qty int) bool {
	return after < 0 || before-after != placed*qty
}

func summary(sorted []float64) (avg, minL, maxL float64) {
	if len(sorted) == 0 {
		return 0, 0, 0
	}
	for _, v := range sorted {
		avg += v
	}
	return avg / float64(len(sorted)), sorted[0], sorted[len(sorted)-1]
}

func writeJSON(path string, result benchResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[len(sorted)-1]
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
