package jobengine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultStartTimeout = 30 * time.Second

// HTTPStarter posts start requests to the job engine endpoint with an
// HMAC signature.
// Headers: X-OpSched-Job-ID, X-OpSched-Scope-ID, X-OpSched-Signature
type HTTPStarter struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
}

func NewHTTPStarter(url, secret string) *HTTPStarter {
	return &HTTPStarter{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: defaultStartTimeout,
	}
}

func (s *HTTPStarter) WithTimeout(timeout time.Duration) *HTTPStarter {
	s.timeout = timeout
	return s
}

func (s *HTTPStarter) StartJob(ctx context.Context, req StartRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-OpSched-Job-ID", req.JobID.String())
	httpReq.Header.Set("X-OpSched-Scope-ID", req.ScopeID.String())
	httpReq.Header.Set("X-OpSched-Signature", computeSignature(s.secret, body))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("job engine returned %d", resp.StatusCode)
	}
	return nil
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for job engines to verify incoming start requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

var _ JobStarter = (*HTTPStarter)(nil)
