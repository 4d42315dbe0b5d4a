package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

type Provider interface {
	Post(ctx context.Context, url string, secret string, payload []byte) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Post(ctx context.Context, url string, secret string, payload []byte) error {
	return nil
}

// HTTPProvider posts a JSON payload to the user's webhook endpoint. When a
// secret is on file the body is signed with HMAC-SHA256 so receivers can
// verify origin.
type HTTPProvider struct {
	client *http.Client
}

func NewHTTP() *HTTPProvider {
	return &HTTPProvider{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) Post(ctx context.Context, url string, secret string, payload []byte) error {
	if url == "" {
		return fmt.Errorf("webhook: no endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Alertd-Signature", sign(secret, payload))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
