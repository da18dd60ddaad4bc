// Package callprovider talks to the external voice platform (Vapi) that
// runs the simulated customer calls.
package callprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/cloo-solutions/salesdojo/internal/retry"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.vapi.ai"
	defaultTimeout = 30 * time.Second
)

// ErrNoCallID is returned when the provider accepts a call without an id.
var ErrNoCallID = errors.New("provider response has no call id")

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	// WebhookURL and WebhookSecret are handed to the provider so that call
	// events come back to this service.
	WebhookURL    string
	WebhookSecret string
	Timeout       time.Duration
	Retry         retry.Policy
}

// APIError is a non-2xx answer from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("call provider returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Client creates and ends web calls.
type Client struct {
	http    *http.Client
	cfg     Config
	profile *Profile
	logger  logrus.FieldLogger
}

// New creates a Client. A nil profile uses DefaultProfile.
func New(cfg Config, profile *Profile, logger logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   250 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Multiplier:  2,
			Jitter:      0.2,
		}
	}
	if profile == nil {
		profile = DefaultProfile()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		profile: profile,
		logger:  logger,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelConfig struct {
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type voiceConfig struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type transcriberConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

type assistantConfig struct {
	Name                  string            `json:"name,omitempty"`
	Model                 modelConfig       `json:"model"`
	Voice                 voiceConfig       `json:"voice"`
	Transcriber           transcriberConfig `json:"transcriber"`
	FirstMessage          string            `json:"firstMessage"`
	EndCallMessage        string            `json:"endCallMessage,omitempty"`
	RecordingEnabled      bool              `json:"recordingEnabled"`
	SilenceTimeoutSeconds int               `json:"silenceTimeoutSeconds,omitempty"`
	MaxDurationSeconds    int               `json:"maxDurationSeconds"`
	ServerURL             string            `json:"serverUrl,omitempty"`
	ServerURLSecret       string            `json:"serverUrlSecret,omitempty"`
}

type createCallRequest struct {
	Type      string            `json:"type"`
	Assistant assistantConfig   `json:"assistant"`
	Metadata  map[string]string `json:"metadata"`
}

type createCallResponse struct {
	ID         string `json:"id"`
	WebCallURL string `json:"webCallUrl"`
}

func (c *Client) assistant(persona *domain.Persona) (assistantConfig, error) {
	prompt, err := c.profile.SystemPromptFor(persona)
	if err != nil {
		return assistantConfig{}, fmt.Errorf("render system prompt: %w", err)
	}
	first, err := c.profile.FirstMessageFor(persona)
	if err != nil {
		return assistantConfig{}, fmt.Errorf("render first message: %w", err)
	}
	p := c.profile
	return assistantConfig{
		Name: persona.Name,
		Model: modelConfig{
			Provider:    p.Model.Provider,
			Model:       p.Model.Model,
			Temperature: p.Model.Temperature,
			Messages:    []message{{Role: "system", Content: prompt}},
		},
		Voice: voiceConfig{Provider: p.Voice.Provider, VoiceID: p.Voice.VoiceID},
		Transcriber: transcriberConfig{
			Provider: p.Transcriber.Provider,
			Model:    p.Transcriber.Model,
			Language: p.Transcriber.Language,
		},
		FirstMessage:          first,
		EndCallMessage:        p.EndCallMessage,
		RecordingEnabled:      p.RecordingEnabled,
		SilenceTimeoutSeconds: p.SilenceTimeoutSeconds,
		MaxDurationSeconds:    p.MaxDurationSeconds,
		ServerURL:             c.cfg.WebhookURL,
		ServerURLSecret:       c.cfg.WebhookSecret,
	}, nil
}

// CreateCall starts a web call for session with persona as the simulated
// customer. The session, tenant and persona ids travel as call metadata
// and come back on every webhook.
func (c *Client) CreateCall(ctx context.Context, session *domain.CallSession, persona *domain.Persona) (string, string, error) {
	asst, err := c.assistant(persona)
	if err != nil {
		return "", "", err
	}
	body := createCallRequest{
		Type:      "webCall",
		Assistant: asst,
		Metadata: map[string]string{
			"session_id":   session.ID,
			"tenant_id":    session.TenantID,
			"persona_id":   persona.ID,
			"persona_name": persona.Name,
			"persona_role": string(persona.Role),
			"type":         "sales_training",
		},
	}

	var out createCallResponse
	err = c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/call", body, &out)
	}, IsRetryable, c.notify("create_call"))
	if err != nil {
		return "", "", fmt.Errorf("create call: %w", err)
	}
	if out.ID == "" {
		return "", "", ErrNoCallID
	}

	c.logger.WithFields(logrus.Fields{
		"session_id":       session.ID,
		"tenant_id":        session.TenantID,
		"external_call_id": out.ID,
	}).Info("provider call created")
	return out.ID, out.WebCallURL, nil
}

// EndCall asks the provider to hang up an ongoing call.
func (c *Client) EndCall(ctx context.Context, externalCallID string) error {
	if externalCallID == "" {
		return ErrNoCallID
	}
	path := "/call/" + url.PathEscape(externalCallID) + "/end"
	err := c.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, nil, nil)
	}, IsRetryable, c.notify("end_call"))
	if err != nil {
		return fmt.Errorf("end call %s: %w", externalCallID, err)
	}
	return nil
}

func (c *Client) notify(op string) retry.Notify {
	return func(err error, attempt int, wait time.Duration) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"wait_ms":   wait.Milliseconds(),
		}).Warn("call provider request failed, retrying")
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsRetryable reports whether err is worth another attempt: rate limits,
// server errors and network failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
