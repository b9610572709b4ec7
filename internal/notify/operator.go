package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vigil/internal/config"
	"vigil/internal/crisis"
)

// OperatorNotifier pages the humans who run the engine. State corruption and
// mandatory-review flags must never rely on someone happening to read logs.
type OperatorNotifier interface {
	AlertStateCorruption(ctx context.Context, userID, caseID, detail string) error
	AlertMandatoryReview(ctx context.Context, userID, caseID, reason string) error
	AlertForcedEscalation(ctx context.Context, caseID string, tier crisis.Tier, reason string) error
	AlertDispatchExhausted(ctx context.Context, caseID, channel, target string) error
	TestNotification(ctx context.Context) error
}

// NewOperatorNotifier builds an ntfy-style operator pager when configured.
// Without an alert URL a noop implementation is returned.
func NewOperatorNotifier(cfg *config.Config) OperatorNotifier {
	endpoint := strings.TrimSpace(cfg.Operators.AlertURL)
	if endpoint == "" {
		return noopOperator{}
	}
	return &operatorService{
		endpoint: endpoint,
		token:    strings.TrimSpace(cfg.Operators.AlertToken),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type operatorPayload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type operatorService struct {
	endpoint string
	token    string
	client   *http.Client
}

func (o *operatorService) AlertStateCorruption(ctx context.Context, userID, caseID, detail string) error {
	return o.send(ctx, operatorPayload{
		title:    "Vigil - State Corruption",
		message:  fmt.Sprintf("Case %s (user %s) frozen: %s", caseID, userID, detail),
		tags:     []string{"vigil", "corruption", "page"},
		priority: "urgent",
	})
}

func (o *operatorService) AlertMandatoryReview(ctx context.Context, userID, caseID, reason string) error {
	return o.send(ctx, operatorPayload{
		title:    "Vigil - Mandatory Review",
		message:  fmt.Sprintf("Case %s (user %s) requires human review: %s", caseID, userID, reason),
		tags:     []string{"vigil", "review"},
		priority: "high",
	})
}

func (o *operatorService) AlertForcedEscalation(ctx context.Context, caseID string, tier crisis.Tier, reason string) error {
	return o.send(ctx, operatorPayload{
		title:    "Vigil - Forced Escalation",
		message:  fmt.Sprintf("Case %s escalated to %s: %s", caseID, TierLabel(tier), reason),
		tags:     []string{"vigil", "escalation"},
		priority: "high",
	})
}

func (o *operatorService) AlertDispatchExhausted(ctx context.Context, caseID, channel, target string) error {
	return o.send(ctx, operatorPayload{
		title:    "Vigil - Delivery Failed",
		message:  fmt.Sprintf("Case %s: %s delivery to %s failed after all retries", caseID, ChannelLabel(channel), target),
		tags:     []string{"vigil", "dispatch", "failed"},
		priority: "high",
	})
}

func (o *operatorService) TestNotification(ctx context.Context) error {
	return o.send(ctx, operatorPayload{
		title:    "Vigil - Test",
		message:  "Operator alert channel test",
		tags:     []string{"vigil", "test"},
		priority: "low",
	})
}

func (o *operatorService) send(ctx context.Context, data operatorPayload) error {
	if o == nil || o.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build operator alert request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if o.token != "" {
		req.Header.Set("Authorization", "Bearer "+o.token)
	}
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("send operator alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("operator alert endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopOperator struct{}

func (noopOperator) AlertStateCorruption(context.Context, string, string, string) error { return nil }
func (noopOperator) AlertMandatoryReview(context.Context, string, string, string) error { return nil }
func (noopOperator) AlertForcedEscalation(context.Context, string, crisis.Tier, string) error {
	return nil
}
func (noopOperator) AlertDispatchExhausted(context.Context, string, string, string) error { return nil }
func (noopOperator) TestNotification(context.Context) error                               { return nil }
