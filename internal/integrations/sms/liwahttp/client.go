package liwahttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/elclub/paqclub/internal/integrations/sms"
)

// Client talks to the Liwa.co SMS gateway. The gateway wants a session
// token first; tokens are short-lived, so the client caches one and
// refreshes it when it is about to expire.
type Client struct {
	baseURL  string
	account  string
	password string
	apiToken string
	httpc    *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func New(baseURL, account, password, apiToken string) *Client {
	if baseURL == "" {
		baseURL = "https://api.liwa.co/v2"
	}
	return &Client{
		baseURL:  baseURL,
		account:  account,
		password: password,
		apiToken: apiToken,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

const tokenLifetime = 50 * time.Minute

type authResp struct {
	Token   string `json:"token"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	body, _ := json.Marshal(map[string]string{
		"account":  c.account,
		"password": c.password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "new auth request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "auth request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("liwa auth http %d", resp.StatusCode)
	}

	var r authResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", errors.Wrap(err, "decode auth response")
	}
	if r.Token == "" {
		return "", fmt.Errorf("liwa auth failed: %s", r.Message)
	}

	c.token = r.Token
	c.tokenExpiry = time.Now().Add(tokenLifetime)
	return c.token, nil
}

type sendResp struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Message   string `json:"message"`
	Cost      int32  `json:"cost"`
}

func (c *Client) Send(ctx context.Context, phone, message string) (sms.SendResult, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return sms.SendResult{}, err
	}

	body, _ := json.Marshal(map[string]any{
		"number":  phone,
		"message": message,
		"type":    1,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sms/send", bytes.NewReader(body))
	if err != nil {
		return sms.SendResult{}, errors.Wrap(err, "new send request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return sms.SendResult{}, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token died early; drop it so the next attempt re-authenticates.
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		return sms.SendResult{}, fmt.Errorf("liwa send http %d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return sms.SendResult{}, fmt.Errorf("liwa send http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return sms.SendResult{}, errors.Wrap(err, "decode send response")
	}
	raw, _ := json.Marshal(r)
	if !r.Success {
		return sms.SendResult{}, fmt.Errorf("liwa send failed: %s", r.Message)
	}

	return sms.SendResult{
		ProviderID:  r.MessageID,
		RawResponse: string(raw),
		CostCents:   r.Cost,
	}, nil
}
