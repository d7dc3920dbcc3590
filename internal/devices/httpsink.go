package devices

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

	"github.com/google/uuid"
)

const defaultSendTimeout = 30 * time.Second

// HTTPSink posts commands to the device transport bridge with an HMAC
// signature.
// Headers: X-OpSched-Operation-ID, X-OpSched-Scope-ID, X-OpSched-Signature
type HTTPSink struct {
	client  *http.Client
	url     string
	secret  string
	timeout time.Duration
}

func NewHTTPSink(url, secret string) *HTTPSink {
	return &HTTPSink{
		client:  &http.Client{},
		url:     url,
		secret:  secret,
		timeout: defaultSendTimeout,
	}
}

func (s *HTTPSink) WithTimeout(timeout time.Duration) *HTTPSink {
	s.timeout = timeout
	return s
}

// commandEnvelope is the wire form of a dispatched command.
type commandEnvelope struct {
	OperationID string            `json:"operation_id"`
	ScopeID     string            `json:"scope_id"`
	TargetID    string            `json:"target_id"`
	JobID       string            `json:"job_id,omitempty"`
	Resource    string            `json:"resource"`
	Payload     map[string]string `json:"payload,omitempty"`
}

func (s *HTTPSink) Send(ctx context.Context, operationID uuid.UUID, cmd Command) error {
	env := commandEnvelope{
		OperationID: operationID.String(),
		ScopeID:     cmd.ScopeID.String(),
		TargetID:    cmd.TargetID.String(),
		Resource:    cmd.Resource,
		Payload:     cmd.Payload,
	}
	if cmd.JobID != uuid.Nil {
		env.JobID = cmd.JobID.String()
	}

	body, err := json.Marshal(env)
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
	httpReq.Header.Set("X-OpSched-Operation-ID", operationID.String())
	httpReq.Header.Set("X-OpSched-Scope-ID", cmd.ScopeID.String())
	httpReq.Header.Set("X-OpSched-Signature", signBody(s.secret, body))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("device transport returned %d", resp.StatusCode)
	}
	return nil
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ CommandSink = (*HTTPSink)(nil)
