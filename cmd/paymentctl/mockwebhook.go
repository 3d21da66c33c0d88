package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"leaguehub.com/app/internal/modules/payments"
)

type mockWebhookOptions struct {
	url      string
	secret   string
	eventID  string
	typ      string
	intentID string
	amount   int64
	currency string
	dryRun   bool
}

func mockWebhookCmd() *cobra.Command {
	_ = godotenv.Load()

	o := mockWebhookOptions{}
	cmd := &cobra.Command{
		Use:   "mockwebhook",
		Short: "Send a signed webhook as the mock processor would",
		Example: `  paymentctl mockwebhook --intent mock_pi_1 --amount 5000 --currency usd
  paymentctl mockwebhook --intent mock_pi_1 --type payment.failed --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendMockWebhook(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "http://localhost:8080/webhooks/mock", "webhook URL")
	f.StringVar(&o.secret, "secret", os.Getenv("MOCK_WEBHOOK_SECRET"), "webhook secret (default $MOCK_WEBHOOK_SECRET)")
	f.StringVar(&o.eventID, "event-id", "", "event id (default random)")
	f.StringVar(&o.typ, "type", "payment.succeeded", "payment.succeeded | payment.failed | payment.canceled")
	f.StringVar(&o.intentID, "intent", "", "processor intent id")
	f.Int64Var(&o.amount, "amount", 5000, "amount in minor units")
	f.StringVar(&o.currency, "currency", "usd", "currency")
	f.BoolVar(&o.dryRun, "dry-run", false, "print the signed request without sending it")
	return cmd
}

func sendMockWebhook(cmd *cobra.Command, o mockWebhookOptions) error {
	if o.secret == "" {
		return errors.New("secret not provided and MOCK_WEBHOOK_SECRET not set")
	}
	if o.intentID == "" {
		return errors.New("--intent is required")
	}
	if o.eventID == "" {
		o.eventID = "evt_" + uuid.NewString()
	}

	var p payments.MockWebhookPayload
	p.ID = o.eventID
	p.Type = o.typ
	p.Data.IntentID = o.intentID
	p.Data.Amount = o.amount
	p.Data.Currency = o.currency

	body, err := json.Marshal(p)
	if err != nil {
		return err
	}
	sig := payments.SignMockWebhook([]byte(o.secret), time.Now(), body)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", payments.MockSignatureHeader, sig)
	fmt.Fprintf(out, "Body: %s\n", body)
	if o.dryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Not sending request")
		return nil
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payments.MockSignatureHeader, sig)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	fmt.Fprintf(out, "\nStatus: %d\nResponse: %s\n", resp.StatusCode, respBody)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook rejected with status %d", resp.StatusCode)
	}
	return nil
}
