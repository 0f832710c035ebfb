package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
)

type scenario struct {
	Name        string
	Description string
}

type model struct {
	users       []int64
	scenarios   []scenario
	selectedUsr int
	selectedScn int
	productID   int64
	quantity    int
	status      string
	details     string
	busy        bool
}

func initialModel(productID int64, qty int) model {
	return model{
		users: []int64{1, 2, 3, 4, 5},
		scenarios: []scenario{
			{"add", "Add product to cart"},
			{"cart", "Show cart"},
			{"checkout", "Place order"},
			{"race", "Concurrent checkout of one product"},
			{"report", "Trigger daily sales report"},
		},
		productID: productID,
		quantity:  qty,
		status:    "Ready",
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up":
			if m.selectedUsr > 0 {
				m.selectedUsr--
			}
		case "down":
			if m.selectedUsr < len(m.users)-1 {
				m.selectedUsr++
			}
		case "left":
			if m.selectedScn > 0 {
				m.selectedScn--
			}
		case "right":
			if m.selectedScn < len(m.scenarios)-1 {
				m.selectedScn++
			}
		case "+":
			m.quantity++
		case "-":
			if m.quantity > 1 {
				m.quantity--
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running..."
			return m, runScenarioCmd(m.scenarios[m.selectedScn].Name, m.users[m.selectedUsr], m.productID, m.quantity)
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		m.details = msg.details
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintln(b, "storefront-checkout-go CLI")
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Users:")
	for i, u := range m.users {
		marker := " "
		if i == m.selectedUsr {
			marker = ">"
		}
		fmt.Fprintf(b, " %s user %d\n", marker, u)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintln(b, "Scenarios (use left/right):")
	for i, scn := range m.scenarios {
		marker := " "
		if i == m.selectedScn {
			marker = "*"
		}
		fmt.Fprintf(b, " %s %s - %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintln(b, "")
	fmt.Fprintf(b, "Product: %d  Quantity: %d\n", m.productID, m.quantity)
	fmt.Fprintf(b, "Status: %s\n", m.status)
	if m.details != "" {
		fmt.Fprintf(b, "%s\n", m.details)
	}
	fmt.Fprintln(b, "\nControls: up/down user, left/right scenario, +/- quantity, enter to run, q to quit")
	return b.String()
}

type scenarioResult struct {
	status  string
	details string
}

func runScenarioCmd(scn string, user, productID int64, qty int) tea.Cmd {
	return func() tea.Msg {
		baseURL := getenv("STOREFRONT_BASE_URL", "http://localhost:8080")
		switch scn {
		case "add":
			body := map[string]any{"product_id": productID, "quantity": qty}
			code, resp, err := call(baseURL, http.MethodPost, "/cart/items", user, body, "")
			return result("Add", code, resp, err)
		case "cart":
			code, resp, err := call(baseURL, http.MethodGet, "/cart", user, nil, "")
			return result("Cart", code, resp, err)
		case "checkout":
			code, resp, err := call(baseURL, http.MethodPost, "/checkout", user, nil, uuid.NewString())
			return result("Checkout", code, resp, err)
		case "report":
			code, resp, err := call(baseURL, http.MethodPost, "/admin/reports/daily", 0, nil, "")
			return result("Report", code, resp, err)
		case "race":
			return scenarioResult{status: "Race finished", details: runRace(baseURL, productID, 10)}
		default:
			return scenarioResult{status: fmt.Sprintf("unknown scenario %q", scn)}
		}
	}
}

func result(what string, code int, body string, err error) scenarioResult {
	if err != nil {
		return scenarioResult{status: fmt.Sprintf("%s failed: %v", what, err)}
	}
	return scenarioResult{status: fmt.Sprintf("%s: HTTP %d", what, code), details: body}
}

func call(baseURL, method, path string, user int64, payload any, idemKey string) (int, string, error) {
	var rd io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		rd = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(baseURL, "/")+path, rd)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if user > 0 {
		req.Header.Set("X-User-ID", strconv.FormatInt(user, 10))
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}

// runRace gives n fresh users one unit each of the product and checks them
// out at the same time.
func runRace(baseURL string, productID int64, n int) string {
	base := time.Now().UnixNano() % 1_000_000 * 100
	for i := 0; i < n; i++ {
		_, _, _ = call(baseURL, http.MethodPost, "/cart/items", base+int64(i)+1, map[string]any{"product_id": productID, "quantity": 1}, "")
	}

	var (
		mu    sync.Mutex
		codes = map[int]int{}
		wg    sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			<-start
			code, _, err := call(baseURL, http.MethodPost, "/checkout", user, nil, uuid.NewString())
			if err != nil {
				code = -1
			}
			mu.Lock()
			codes[code]++
			mu.Unlock()
		}(base + int64(i) + 1)
	}
	close(start)
	wg.Wait()

	return fmt.Sprintf("placed=%d insufficient=%d retryable=%d other=%d",
		codes[http.StatusCreated], codes[http.StatusConflict], codes[http.StatusServiceUnavailable],
		n-codes[http.StatusCreated]-codes[http.StatusConflict]-codes[http.StatusServiceUnavailable])
}

func main() {
	runCmd := flag.String("run", "", "run scenario: add|cart|checkout|race|report")
	user := flag.Int64("user", 1, "user id")
	product := flag.Int64("product", 1, "product id")
	qty := flag.Int("qty", 1, "quantity")
	flag.Parse()

	if *runCmd != "" {
		res := runScenarioCmd(*runCmd, *user, *product, *qty)().(scenarioResult)
		fmt.Println(res.status)
		if res.details != "" {
			fmt.Println(res.details)
		}
		return
	}

	p := tea.NewProgram(initialModel(*product, *qty))
	if _, err := p.Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
