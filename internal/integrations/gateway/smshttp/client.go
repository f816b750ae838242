package smshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/TripWatch/internal/integrations/gateway"
	"github.com/pkg/errors"
)

// Client говорит с JSON-шлюзом сообщений (POST /v1/messages).
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendReq struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Body    string `json:"body"`
}

type sendResp struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func (c *Client) Send(ctx context.Context, channel, to, body string) (gateway.SendResult, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return gateway.SendResult{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/messages"

	payload, err := json.Marshal(sendReq{Channel: channel, To: to, Body: body})
	if err != nil {
		return gateway.SendResult{}, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return gateway.SendResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return gateway.SendResult{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return gateway.SendResult{}, fmt.Errorf("message gateway http %d", resp.StatusCode)
	}

	var r sendResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return gateway.SendResult{}, errors.Wrap(err, "decode")
	}
	if !r.Success {
		if r.Error == "" {
			r.Error = "unknown gateway error"
		}
		return gateway.SendResult{}, errors.New(r.Error)
	}

	return gateway.SendResult{ProviderID: r.MessageID}, nil
}
