package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	baseURL         = "http://localhost:8080"
	numAccounts     = 100        // Number of accounts to create
	numOperations   = 10000      // Total number of operations
	maxConcurrency  = 200        // Maximum number of concurrent requests
	initialDeposit  = "20000"    // Opening deposit for each account
	maxAmount       = 1000.0     // Maximum operation amount
	successColor    = "\033[32m" // Green
	errorColor      = "\033[31m" // Red
	infoColor       = "\033[34m" // Blue
	resetColor      = "\033[0m"  // Reset color
	rejectedStatus  = http.StatusUnprocessableEntity
	createdStatus   = http.StatusCreated
	operationKinds  = 3
	sampledAccounts = 10
)

var categories = []string{"SALARY", "REFUND", "PAYMENT", "BILL_PAYMENT", "ONLINE_PURCHASE", ""}

type Account struct {
	Number  int             `json:"number"`
	Balance decimal.Decimal `json:"balance"`
	Type    string          `json:"type"`
}

type Transaction struct {
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Category     string          `json:"category"`
}

type result struct {
	mu       sync.Mutex
	ok       int
	rejected int
	failed   int
}

func main() {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	fmt.Printf("%sstarting a heavy load test with %d accounts and %d operations%s\n",
		infoColor, numAccounts, numOperations, resetColor)

	accounts := createAccounts(numAccounts, r)
	if len(accounts) < 2 {
		fmt.Printf("%snot enough accounts to run the test%s\n", errorColor, resetColor)
		return
	}
	fmt.Printf("%sCreated %d accounts%s\n", successColor, len(accounts), resetColor)

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var res result
	var rmu sync.Mutex

	startTime := time.Now()
	fmt.Printf("%slaunching %d operations with max concurrency of %d%s\n",
		infoColor, numOperations, maxConcurrency, resetColor)

	for i := 0; i < numOperations; i++ {
		wg.Add(1)
		sem <- struct{}{}

		rmu.Lock()
		from := accounts[r.Intn(len(accounts))]
		to := accounts[r.Intn(len(accounts))]
		kind := r.Intn(operationKinds)
		category := categories[r.Intn(len(categories))]
		amount := decimal.NewFromFloat(1 + r.Float64()*(maxAmount-1)).Round(2)
		rmu.Unlock()

		go func(opNum int) {
			defer wg.Done()
			defer func() { <-sem }()

			var status int
			var err error
			switch {
			case kind == 0:
				status, err = post(fmt.Sprintf("/accounts/%d/deposit", from.Number),
					map[string]interface{}{"amount": amount, "category": category})
			case kind == 1 || from.Number == to.Number:
				status, err = post(fmt.Sprintf("/accounts/%d/withdraw", from.Number),
					map[string]interface{}{"amount": amount})
			default:
				status, err = post(fmt.Sprintf("/accounts/%d/transfer", from.Number),
					map[string]interface{}{"to_account": to.Number, "amount": amount, "category": category})
			}

			res.mu.Lock()
			defer res.mu.Unlock()
			switch {
			case err != nil:
				res.failed++
				if opNum%100 == 0 {
					fmt.Printf("%sOperation failed: %v%s\n", errorColor, err, resetColor)
				}
			case status == rejectedStatus:
				res.rejected++
			case status == createdStatus:
				res.ok++
			default:
				res.failed++
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(startTime)

	fmt.Printf("\n%s=== heavy load Test Results ===%s\n", infoColor, resetColor)
	fmt.Printf("Total number of operations: %d\n", numOperations)
	fmt.Printf("Accepted: %s%d (%.1f%%)%s\n",
		successColor, res.ok, float64(res.ok)/float64(numOperations)*100, resetColor)
	fmt.Printf("Rejected by policy: %d (%.1f%%)\n",
		res.rejected, float64(res.rejected)/float64(numOperations)*100)
	fmt.Printf("Failed: %s%d (%.1f%%)%s\n",
		errorColor, res.failed, float64(res.failed)/float64(numOperations)*100, resetColor)
	fmt.Printf("Duration: %.2f seconds\n", duration.Seconds())
	fmt.Printf("Throughput: %.2f operations/second\n", float64(numOperations)/duration.Seconds())

	fmt.Printf("\n%sVerifying balance chains...%s\n", infoColor, resetColor)
	verifyLedgers(accounts, r)
}

// createAccounts opens count accounts, alternating Savings and Current
func createAccounts(count int, r *rand.Rand) []Account {
	accounts := make([]Account, 0, count)

	for i := 0; i < count; i++ {
		typ := "Savings"
		if i%2 == 1 {
			typ = "Current"
		}
		reqBody := map[string]interface{}{
			"name":            fmt.Sprintf("load-%d", r.Intn(1_000_000)),
			"age":             18 + r.Intn(60),
			"type":            typ,
			"initial_deposit": initialDeposit,
		}
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			fmt.Printf("%sFailed to marshal JSON: %v%s\n", errorColor, err, resetColor)
			continue
		}

		resp, err := http.Post(baseURL+"/accounts", "application/json", bytes.NewBuffer(jsonData))
		if err != nil {
			fmt.Printf("%sFailed to create account: %v%s\n", errorColor, err, resetColor)
			continue
		}

		if resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(resp.Body)
			fmt.Printf("%sFailed to create account, status: %d, body: %s%s\n",
				errorColor, resp.StatusCode, string(body), resetColor)
			resp.Body.Close()
			continue
		}

		var account Account
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			fmt.Printf("%sFailed to decode response: %v%s\n", errorColor, err, resetColor)
			resp.Body.Close()
			continue
		}
		resp.Body.Close()

		accounts = append(accounts, account)
		if i%10 == 0 || i == count-1 {
			fmt.Printf("%screated account %d/%d: %d (%s) with balance %s%s\n",
				successColor, i+1, count, account.Number, account.Type, account.Balance.StringFixed(2), resetColor)
		}
	}

	return accounts
}

// post sends a JSON body and returns the status code
func post(path string, body interface{}) (int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal JSON: %v", err)
	}
	resp, err := http.Post(baseURL+path, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return 0, fmt.Errorf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func getJSON(path string, dst interface{}) error {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return fmt.Errorf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GET %s status: %d, body: %s", path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}

// verifyLedgers checks that sampled accounts still satisfy the balance
// chain and never dropped below their minimum balance.
func verifyLedgers(accounts []Account, r *rand.Rand) {
	for i := 0; i < min(sampledAccounts, len(accounts)); i++ {
		original := accounts[r.Intn(len(accounts))]

		var account Account
		if err := getJSON(fmt.Sprintf("/accounts/%d", original.Number), &account); err != nil {
			fmt.Printf("%sError retrieving account %d: %v%s\n", errorColor, original.Number, err, resetColor)
			continue
		}
		var transactions []Transaction
		if err := getJSON(fmt.Sprintf("/accounts/%d/transactions", original.Number), &transactions); err != nil {
			fmt.Printf("%sError retrieving transactions for account %d: %v%s\n", errorColor, original.Number, err, resetColor)
			continue
		}

		balance := original.Balance
		broken := 0
		counts := make(map[string]int)
		for _, tx := range transactions {
			balance = balance.Add(tx.Amount)
			if !balance.Equal(tx.BalanceAfter) {
				broken++
				balance = tx.BalanceAfter
			}
			counts[tx.Type]++
		}

		color := successColor
		if broken > 0 || !balance.Equal(account.Balance) {
			color = errorColor
		}
		fmt.Printf("%sAccount %d (%s)%s\n", color, account.Number, account.Type, resetColor)
		fmt.Printf("  Opening balance: %s, Current balance: %s\n",
			original.Balance.StringFixed(2), account.Balance.StringFixed(2))
		fmt.Printf("  Records: %d (%d deposits, %d withdrawals, %d transfers out, %d transfers in)\n",
			len(transactions), counts["DEPOSIT"], counts["WITHDRAWAL"], counts["TRANSFER_OUT"], counts["TRANSFER_IN"])
		fmt.Printf("  Broken chain links: %d\n", broken)
	}
}
