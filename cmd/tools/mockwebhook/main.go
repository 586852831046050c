// mockwebhook sends a signed test webhook delivery to a local server, in
// either Stripe or Flutterwave format.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

func main() {
	provider := flag.String("provider", "stripe", "Provider format (stripe, flutterwave)")
	base := flag.String("base", "http://localhost:8080", "Server base URL")
	secret := flag.String("secret", os.Getenv("MOCK_WEBHOOK_SECRET"), "Webhook signing secret")
	orderID := flag.String("order-id", "", "Order id to reference in the event")
	txnID := flag.String("txn-id", "", "Provider transaction id (random if empty)")
	amount := flag.String("amount", "21.59", "Amount as a decimal string")
	cents := flag.Int64("cents", 2159, "Amount in cents (stripe)")
	currency := flag.String("currency", "USD", "Currency")
	dryRun := flag.Bool("dry-run", false, "Only print headers and body, don't send")

	flag.Parse()

	if *secret == "" {
		fmt.Fprintf(os.Stderr, "Error: secret not provided and MOCK_WEBHOOK_SECRET not set\n")
		os.Exit(1)
	}
	if *orderID == "" {
		fmt.Fprintf(os.Stderr, "Error: -order-id is required\n")
		os.Exit(1)
	}
	if *txnID == "" {
		*txnID = "txn_" + randomHex(8)
	}

	var (
		url     string
		body    []byte
		headers map[string]string
		err     error
	)
	switch *provider {
	case "stripe":
		url = *base + "/webhooks/stripe"
		body, err = json.Marshal(map[string]any{
			"id":   "evt_" + randomHex(8),
			"type": "checkout.session.completed",
			"data": map[string]any{
				"object": map[string]any{
					"id":             "cs_test_" + randomHex(12),
					"object":         "checkout.session",
					"payment_status": "paid",
					"payment_intent": "pi_" + randomHex(8),
					"amount_total":   *cents,
					"currency":       *currency,
					"metadata":       map[string]string{"order_id": *orderID},
				},
			},
		})
		if err == nil {
			t := time.Now().Unix()
			headers = map[string]string{
				"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", t, stripeSig([]byte(*secret), t, body)),
			}
		}
	case "flutterwave":
		url = *base + "/webhooks/flutterwave"
		body, err = json.Marshal(map[string]any{
			"event": "charge.completed",
			"data": map[string]any{
				"id":       json.Number(strconv.FormatInt(time.Now().Unix(), 10)),
				"tx_ref":   "order-" + *orderID + "-" + randomHex(4),
				"flw_ref":  *txnID,
				"status":   "successful",
				"amount":   json.Number(*amount),
				"currency": *currency,
			},
		})
		mac := hmac.New(sha256.New, []byte(*secret))
		mac.Write(body)
		headers = map[string]string{
			"verif-hash": hex.EncodeToString(mac.Sum(nil)),
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown provider %q\n", *provider)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
		os.Exit(1)
	}

	for k, v := range headers {
		fmt.Printf("%s: %s\n", k, v)
	}
	fmt.Printf("Body: %s\n", string(body))

	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	fmt.Printf("\nSending to %s...\n", url)
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", string(respBody))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}

func stripeSig(secret []byte, t int64, body []byte) string {
	m := hmac.New(sha256.New, secret)
	m.Write([]byte(strconv.FormatInt(t, 10)))
	m.Write([]byte("."))
	m.Write(body)
	return hex.EncodeToString(m.Sum(nil))
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)[:n]
}
