package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Client opens payment intents with the external gateway. Requests are
// signed with a shared HMAC secret; the webhook paysvc verifies carries
// the same signature scheme back.
type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
}

func FromEnv() *Client {
	c := &Client{
		baseURL: os.Getenv("PAYMENT_GATEWAY_URL"),
		secret:  []byte(os.Getenv("PAYMENT_GATEWAY_SECRET")),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	if c.baseURL == "" {
		log.Warn("PAYMENT_GATEWAY_URL not set, issuing local payment intents")
	}
	return c
}

// Sign returns the hex HMAC-SHA256 of the payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook body against its signature header.
func VerifySignature(secret, payload []byte, signature string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// CreateIntent registers an intent with the gateway and returns its id.
// Without a configured gateway the intent id is generated locally, which
// keeps development setups working end to end.
func (c *Client) CreateIntent(ctx context.Context, userID int64, amount decimal.Decimal) (string, error) {
	if c.baseURL == "" {
		return "pi_" + uuid.NewString(), nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"user_id": userID,
		"amount":  amount.StringFixed(2),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/intents", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", Sign(c.secret, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var out struct {
		PaymentIntentId string `json:"payment_intent_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.PaymentIntentId == "" {
		return "", fmt.Errorf("gateway response missing intent id")
	}
	return out.PaymentIntentId, nil
}
