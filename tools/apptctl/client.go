package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/httpx"
)

type apiClient struct {
	http   *http.Client
	tenant string
}

func newAPIClient(tenant string, timeout time.Duration) *apiClient {
	return &apiClient{http: &http.Client{Timeout: timeout}, tenant: tenant}
}

// APIError is an error envelope returned by one of the services.
type APIError struct {
	Status int
	Body   httpx.ErrorBody
}

func (e *APIError) Error() string {
	if e.Body.Code == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Body.Code, e.Body.Message)
}

func (c *apiClient) do(ctx context.Context, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set(httpx.TenantIDHeader, c.tenant)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error httpx.ErrorBody `json:"error"`
		}
		_ = json.Unmarshal(raw, &envelope)
		return &APIError{Status: resp.StatusCode, Body: envelope.Error}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func join(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
