package notify

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

	"vigil/internal/config"
	"vigil/internal/services"
)

const userAgent = "Vigil/0.1.0"

// Channel delivers one message to one target over one medium. Implementations
// classify failures with the services dispatch markers so the dispatcher can
// decide between retry and immediate escalation.
type Channel interface {
	Send(ctx context.Context, target string, msg Message) (SendResult, error)
}

// Registry maps channel names to configured adapters.
type Registry struct {
	channels map[string]Channel
}

// ChannelNames in registry order. Counselor and emergency are fixed
// escalation paths, not user-addressed media.
const (
	ChannelPush      = "push"
	ChannelSMS       = "sms"
	ChannelVoice     = "voice"
	ChannelEmail     = "email"
	ChannelCounselor = "counselor"
	ChannelEmergency = "emergency"
)

// NewRegistry builds adapters for every configured medium. Unconfigured media
// are absent from the registry; the dispatcher decides what an absent channel
// means per tier.
func NewRegistry(cfg *config.Config, client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	registry := &Registry{channels: make(map[string]Channel)}
	endpoints := map[string]config.ChannelEndpoint{
		ChannelPush:      cfg.Channels.Push,
		ChannelSMS:       cfg.Channels.SMS,
		ChannelVoice:     cfg.Channels.Voice,
		ChannelEmail:     cfg.Channels.Email,
		ChannelCounselor: cfg.Channels.Counselor,
		ChannelEmergency: cfg.Channels.Emergency,
	}
	for name, endpoint := range endpoints {
		url := strings.TrimSpace(endpoint.URL)
		if url == "" {
			continue
		}
		registry.channels[name] = &webhookChannel{
			name:   name,
			url:    url,
			token:  strings.TrimSpace(endpoint.Token),
			client: client,
		}
	}
	return registry
}

// NewRegistryWithChannels builds a registry from explicit adapters (tests and
// custom wiring).
func NewRegistryWithChannels(channels map[string]Channel) *Registry {
	cp := make(map[string]Channel, len(channels))
	for name, channel := range channels {
		cp[name] = channel
	}
	return &Registry{channels: cp}
}

// Channel returns the adapter for a medium, if configured.
func (r *Registry) Channel(name string) (Channel, bool) {
	channel, ok := r.channels[strings.ToLower(strings.TrimSpace(name))]
	return channel, ok
}

// Configured lists the media with a working adapter.
func (r *Registry) Configured() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	return names
}

// webhookChannel POSTs messages to a per-medium delivery webhook.
type webhookChannel struct {
	name   string
	url    string
	token  string
	client *http.Client
}

type webhookPayload struct {
	Target   string `json:"target"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority,omitempty"`
}

func (w *webhookChannel) Send(ctx context.Context, target string, msg Message) (SendResult, error) {
	payload, err := json.Marshal(webhookPayload{
		Target:   target,
		Title:    msg.Title,
		Body:     msg.Body,
		Priority: msg.Priority,
	})
	if err != nil {
		return SendResult{}, services.Wrap(services.ErrPermanentDispatch, w.name, "send", "encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, services.Wrap(services.ErrPermanentDispatch, w.name, "send", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return SendResult{}, services.Wrap(services.ErrTimeout, w.name, "send", "delivery deadline exceeded", err)
		}
		return SendResult{}, services.Wrap(services.ErrTransientDispatch, w.name, "send", "deliver webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		ref := strings.TrimSpace(resp.Header.Get("X-Provider-Ref"))
		if ref == "" {
			var decoded struct {
				ProviderRef string `json:"provider_ref"`
			}
			if body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
				_ = json.Unmarshal(body, &decoded)
				ref = decoded.ProviderRef
			}
		}
		return SendResult{Status: "sent", ProviderRef: ref}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	detail := fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if transientStatus(resp.StatusCode) {
		return SendResult{}, services.Wrap(services.ErrTransientDispatch, w.name, "send", detail, nil)
	}
	// 4xx means the target itself is bad (disconnected number, bad address).
	// Retrying cannot help; the dispatcher escalates instead.
	return SendResult{}, services.Wrap(services.ErrPermanentDispatch, w.name, "send", detail, nil)
}

func transientStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}
