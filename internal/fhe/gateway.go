package fhe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ratings-backend/internal/logger"
)

// GatewayClient talks to the FHE gateway over JSON/HTTP.
type GatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

func NewGatewayClient(baseURL, token string, log *logger.Logger) (*GatewayClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing gateway base URL")
	}
	return &GatewayClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With("client", "FHEGateway"),
	}, nil
}

type encryptRequest struct {
	Value uint8 `json:"value"`
}

type encryptResponse struct {
	Handle string `json:"handle"`
}

func (c *GatewayClient) Encrypt(ctx context.Context, value uint8) (Handle, error) {
	var out encryptResponse
	if err := c.post(ctx, "/v1/encrypt", encryptRequest{Value: value}, &out); err != nil {
		return "", err
	}
	if out.Handle == "" {
		return "", fmt.Errorf("gateway returned empty handle")
	}
	return Handle(out.Handle), nil
}

type grantRequest struct {
	Handle    string `json:"handle"`
	Principal string `json:"principal"`
}

func (c *GatewayClient) GrantAccess(ctx context.Context, handle Handle, principal string) error {
	return c.post(ctx, "/v1/grant", grantRequest{Handle: string(handle), Principal: principal}, nil)
}

type decryptRequest struct {
	Handles     []string `json:"handles"`
	CallbackURL string   `json:"callback_url"`
}

type decryptResponse struct {
	RequestID string `json:"request_id"`
}

func (c *GatewayClient) RequestDecryption(ctx context.Context, handles []Handle, callbackURL string) (string, error) {
	req := decryptRequest{Handles: make([]string, 0, len(handles)), CallbackURL: callbackURL}
	for _, h := range handles {
		req.Handles = append(req.Handles, string(h))
	}
	var out decryptResponse
	if err := c.post(ctx, "/v1/decrypt", req, &out); err != nil {
		return "", err
	}
	if out.RequestID == "" {
		return "", fmt.Errorf("gateway returned empty request id")
	}
	return out.RequestID, nil
}

type verifyRequest struct {
	RequestID  string  `json:"request_id"`
	Cleartexts []int64 `json:"cleartexts"`
	Proof      string  `json:"proof"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (c *GatewayClient) Verify(ctx context.Context, requestID string, cleartexts []int64, proof []byte) (bool, error) {
	req := verifyRequest{
		RequestID:  requestID,
		Cleartexts: cleartexts,
		Proof:      base64.StdEncoding.EncodeToString(proof),
	}
	var out verifyResponse
	if err := c.post(ctx, "/v1/verify", req, &out); err != nil {
		return false, err
	}
	return out.Valid, nil
}

func (c *GatewayClient) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
