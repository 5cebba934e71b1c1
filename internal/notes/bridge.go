package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// BridgeClient creates notes through the host bridge, for workers that
// run where osascript is unavailable.
type BridgeClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBridgeClient creates a client for the bridge at baseURL.
func NewBridgeClient(baseURL, token string, client *http.Client) (*BridgeClient, error) {
	if baseURL == "" {
		return nil, errors.New("notes: bridge url not configured")
	}
	if token == "" {
		return nil, errors.New("notes: bridge token not configured")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}, nil
}

// Create implements Sink.
func (b *BridgeClient) Create(ctx context.Context, n Note) (Created, error) {
	n = n.withDefaults()
	payload, err := json.Marshal(n)
	if err != nil {
		return Created{}, fmt.Errorf("notes: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/create", bytes.NewReader(payload))
	if err != nil {
		return Created{}, fmt.Errorf("notes: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := b.client.Do(req)
	if err != nil {
		return Created{}, fmt.Errorf("notes: bridge service error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Created{}, fmt.Errorf("notes: read bridge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return Created{}, fmt.Errorf("notes: bridge: %s", e.Error)
		}
		return Created{}, fmt.Errorf("notes: bridge: HTTP %d", resp.StatusCode)
	}

	out := Created{Account: n.Account, Folder: n.Folder}
	if err := json.Unmarshal(body, &out); err != nil {
		return Created{}, fmt.Errorf("notes: decode bridge response: %w", err)
	}
	return out, nil
}
