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

	"github.com/dunglas/httpsfv"

	"varmatrix/internal/middleware"
)

// apiClient calls the matrix service REST API.
type apiClient struct {
	base    string
	key     string
	timeout time.Duration
	http    *http.Client

	nonce string
}

// apiError is the decoded {"error": {...}} envelope.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *apiError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (c *apiClient) client() *http.Client {
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c.http
}

// credential renders the Matrix-Credential header value.
func credential(key, nonce string) (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("key", httpsfv.NewItem(key))
	if nonce != "" {
		dict.Add("nonce", httpsfv.NewItem(nonce))
	}
	return httpsfv.Marshal(dict)
}

// do sends one request and decodes the response into out. Mutating
// requests first fetch a nonce, which is reused for the rest of the run.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	if method != http.MethodGet && path != "/nonce" && c.nonce == "" {
		var nr struct {
			Nonce string `json:"nonce"`
		}
		if err := c.do(ctx, http.MethodPost, "/nonce", nil, &nr); err != nil {
			return fmt.Errorf("fetching nonce: %w", err)
		}
		c.nonce = nr.Nonce
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(c.base, "/")+path, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(middleware.VersionHeader, middleware.APIVersion)
	if c.key != "" {
		nonce := c.nonce
		if path == "/nonce" {
			nonce = ""
		}
		header, err := credential(c.key, nonce)
		if err != nil {
			return fmt.Errorf("encoding credential: %w", err)
		}
		req.Header.Set(middleware.CredentialHeader, header)
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error apiError `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code == "" {
			return &apiError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
		}
		envelope.Error.Status = resp.StatusCode
		return &envelope.Error
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
