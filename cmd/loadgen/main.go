// Checkout load driver for manual soak runs against a running server. Each
// simulated user adds one unit of the target product to their cart and places
// an order; with stock S and U users, exactly S checkouts should succeed.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type apiResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
	OrderID int64  `json:"order_id"`
}

func main() {
	var (
		productID  = flag.Int64("product", 1, "product id to order")
		firstUser  = flag.Int64("first-user", 1, "first user id of the contiguous test range")
		totalUsers = flag.Int("users", 50, "number of concurrent users")
	)
	flag.Parse()

	serverURL := os.Getenv("SERVER_URL")
	if serverURL == "" {
		serverURL = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var (
		placed    atomic.Int32
		soldOut   atomic.Int32
		conflicts atomic.Int32
		failures  atomic.Int32
	)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalUsers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()

			if err := post(client, serverURL+"/api/cart/add", map[string]interface{}{
				"user_id":    userID,
				"product_id": *productID,
				"quantity":   1,
			}, nil); err != nil {
				log.Printf("user %d: add to cart: %v", userID, err)
				failures.Add(1)
				return
			}

			var resp apiResponse
			err := post(client, serverURL+"/api/checkout", map[string]interface{}{
				"user_id": userID,
			}, &resp)
			switch {
			case err == nil && resp.Success:
				placed.Add(1)
			case resp.Code == "sold_out":
				soldOut.Add(1)
			case resp.Code == "stock_contention":
				conflicts.Add(1)
			default:
				log.Printf("user %d: checkout: err=%v code=%s", userID, err, resp.Code)
				failures.Add(1)
			}
		}(*firstUser + int64(i))
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== CHECKOUT LOAD RESULTS ==========")
	fmt.Printf("Total Users:      %d\n", *totalUsers)
	fmt.Printf("Orders Placed:    %d\n", placed.Load())
	fmt.Printf("Sold Out:         %d\n", soldOut.Load())
	fmt.Printf("Contention:       %d\n", conflicts.Load())
	fmt.Printf("Failures:         %d\n", failures.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("===========================================")
}

func post(client *http.Client, url string, payload map[string]interface{}, out *apiResponse) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
		if !out.Success && out.Code == "" {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
