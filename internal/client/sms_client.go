// Package client implements the outbound SMS gateway contract against a
// Twilio-compatible Messages API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SmsClient posts form-encoded send requests to the provider. The per-request
// timeout belongs to the caller's context; the embedded http.Client timeout is
// only a hard upper bound.
type SmsClient struct {
	apiURL            string
	accountSID        string
	authToken         string
	from              string
	statusCallbackURL string
	client            *http.Client
}

func NewSmsClient(apiURL, accountSID, authToken, from, statusCallbackURL string) *SmsClient {
	return &SmsClient{
		apiURL:            strings.TrimRight(apiURL, "/"),
		accountSID:        accountSID,
		authToken:         authToken,
		from:              from,
		statusCallbackURL: statusCallbackURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send submits one message and returns the provider message SID. Delivery is
// asynchronous: the provider reports final status later via the status
// callback, not in this response.
func (c *SmsClient) Send(ctx context.Context, toPhoneE164, body string) (string, error) {
	form := url.Values{}
	form.Set("To", toPhoneE164)
	form.Set("From", c.from)
	form.Set("Body", body)
	if c.statusCallbackURL != "" {
		form.Set("StatusCallback", c.statusCallbackURL)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.apiURL, c.accountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var sr sendResponse
		if json.Unmarshal(respBody, &sr) == nil && sr.Message != "" {
			return "", fmt.Errorf("gateway rejected send: %s (code=%d status=%d)", sr.Message, sr.Code, resp.StatusCode)
		}
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(respBody))
	}

	var sr sendResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(respBody))
	}
	if sr.SID == "" {
		return "", fmt.Errorf("missing sid in response body=%q", string(respBody))
	}

	return sr.SID, nil
}
