// Package webhook forwards notifications to an HTTP bridge of an SMS/email provider.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/RelayBox/internal/integrations/notify"
	"github.com/pkg/errors"
)

type Client struct {
	endpoint string
	token    string
	httpc    *http.Client
}

func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse webhook url")
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("webhook url %q must be absolute", baseURL)
	}
	u.Path = "/notifications"
	return &Client{
		endpoint: u.String(),
		token:    token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (c *Client) Send(ctx context.Context, n notify.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notification webhook http %d", resp.StatusCode)
	}
	return nil
}
