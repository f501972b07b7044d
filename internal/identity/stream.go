package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StreamDirectory upserts users through the chat provider's REST API.
type StreamDirectory struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Client    *http.Client
}

// NewStreamDirectory builds a directory client with a bounded request timeout.
func NewStreamDirectory(baseURL, apiKey, apiSecret string, timeout time.Duration) (*StreamDirectory, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("stream directory: api key and secret are required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StreamDirectory{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		APIKey:    apiKey,
		APISecret: apiSecret,
		Client:    &http.Client{Timeout: timeout},
	}, nil
}

type upsertUsersRequest struct {
	Users map[string]Identity `json:"users"`
}

// Upsert creates or replaces the user in the directory.
func (d *StreamDirectory) Upsert(ctx context.Context, identity Identity) error {
	if identity.ID == "" {
		return errors.New("stream directory: identity id is required")
	}

	body, err := json.Marshal(upsertUsersRequest{Users: map[string]Identity{identity.ID: identity}})
	if err != nil {
		return fmt.Errorf("stream directory: encode request: %w", err)
	}

	token, err := d.serverToken()
	if err != nil {
		return err
	}

	endpoint := d.BaseURL + "/users?" + url.Values{"api_key": {d.APIKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("stream directory: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("Stream-Auth-Type", "jwt")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("stream directory: upsert %s: %w", identity.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("stream directory: upsert %s: unexpected status %d: %s", identity.ID, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (d *StreamDirectory) serverToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true})
	signed, err := token.SignedString([]byte(d.APISecret))
	if err != nil {
		return "", fmt.Errorf("stream directory: sign server token: %w", err)
	}
	return signed, nil
}
