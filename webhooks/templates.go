package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/worksync/go-trackers/core"
)

// ProviderWebhookTemplate bundles the verifier and parser a tracker
// needs so callers wire webhooks by provider name instead of
// re-reading each vendor's signing documentation.
type ProviderWebhookTemplate struct {
	ProviderID string
	Verifier   Verifier
	Parse      ParseFunc
}

// NewDispatcher builds a dispatcher from the template.
func (t ProviderWebhookTemplate) NewDispatcher(options ...DispatcherOption) *Dispatcher {
	return NewDispatcher(t.ProviderID, t.Verifier, t.Parse, options...)
}

func NewLinearWebhookTemplate(secret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "linear",
		Verifier: HeaderHMACVerifier{
			Header: "Linear-Signature",
			Secret: strings.TrimSpace(secret),
		},
		Parse: parseLinear,
	}
}

func NewGitHubWebhookTemplate(secret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "github",
		Verifier: HeaderHMACVerifier{
			Header: "X-Hub-Signature-256",
			Prefix: "sha256=",
			Secret: strings.TrimSpace(secret),
		},
		Parse: parseGitHub,
	}
}

func NewTrelloWebhookTemplate(secret, callbackURL string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "trello",
		Verifier: CallbackHMACVerifier{
			Header:      "X-Trello-Webhook",
			Secret:      strings.TrimSpace(secret),
			CallbackURL: strings.TrimSpace(callbackURL),
		},
		Parse: parseTrello,
	}
}

func NewAsanaWebhookTemplate(hookSecret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "asana",
		Verifier:   HookSecretVerifier{Secret: strings.TrimSpace(hookSecret)},
		Parse:      parseAsana,
	}
}

func NewMondayWebhookTemplate(token string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "monday",
		Verifier: HeaderTokenVerifier{
			Header: "Authorization",
			Token:  strings.TrimSpace(token),
		},
		Parse: parseMonday,
	}
}

func NewSlackWebhookTemplate(signingSecret string) ProviderWebhookTemplate {
	return ProviderWebhookTemplate{
		ProviderID: "slack",
		Verifier: HeaderHMACVerifier{
			Header: "X-Slack-Signature",
			Prefix: "v0=",
			Secret: strings.TrimSpace(signingSecret),
		},
		Parse: parseSlack,
	}
}

func parseLinear(req core.WebhookRequest) ([]Event, error) {
	var payload struct {
		Action    string         `json:"action"`
		Type      string         `json:"type"`
		Data      map[string]any `json:"data"`
		CreatedAt time.Time      `json:"createdAt"`
		WebhookID string         `json:"webhookId"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode linear payload: %w", err)
	}
	if payload.Type == "" || payload.Action == "" {
		return nil, fmt.Errorf("linear payload missing type or action")
	}
	resourceID, _ := payload.Data["id"].(string)
	return []Event{{
		Type:         strings.ToLower(payload.Type) + "." + strings.ToLower(payload.Action),
		Action:       strings.ToLower(payload.Action),
		Timestamp:    payload.CreatedAt,
		Source:       "linear",
		ResourceType: strings.ToLower(payload.Type),
		ResourceID:   resourceID,
		Payload:      payload.Data,
	}}, nil
}

func parseGitHub(req core.WebhookRequest) ([]Event, error) {
	eventName := core.HeaderValue(req.Headers, "X-GitHub-Event")
	if eventName == "" {
		return nil, fmt.Errorf("github delivery missing X-GitHub-Event header")
	}
	var payload map[string]any
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode github payload: %w", err)
	}
	action, _ := payload["action"].(string)
	eventType := eventName
	if action != "" {
		eventType = eventName + "." + action
	}
	var resourceID string
	if issue, ok := payload["issue"].(map[string]any); ok {
		if number, ok := issue["number"].(float64); ok {
			resourceID = fmt.Sprintf("%.0f", number)
		}
	}
	return []Event{{
		Type:         eventType,
		Action:       action,
		Source:       "github",
		ResourceType: eventName,
		ResourceID:   resourceID,
		DeliveryID:   core.HeaderValue(req.Headers, "X-GitHub-Delivery"),
		Payload:      payload,
	}}, nil
}

func parseTrello(req core.WebhookRequest) ([]Event, error) {
	var payload struct {
		Action struct {
			ID   string         `json:"id"`
			Type string         `json:"type"`
			Date time.Time      `json:"date"`
			Data map[string]any `json:"data"`
		} `json:"action"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode trello payload: %w", err)
	}
	if payload.Action.Type == "" {
		return nil, fmt.Errorf("trello payload missing action type")
	}
	var resourceID string
	if card, ok := payload.Action.Data["card"].(map[string]any); ok {
		resourceID, _ = card["id"].(string)
	}
	return []Event{{
		Type:         payload.Action.Type,
		Timestamp:    payload.Action.Date,
		Source:       "trello",
		ResourceType: "card",
		ResourceID:   resourceID,
		DeliveryID:   payload.Action.ID,
		Payload:      payload.Action.Data,
	}}, nil
}

// parseAsana fans a batched events array out into individual events.
func parseAsana(req core.WebhookRequest) ([]Event, error) {
	var payload struct {
		Events []struct {
			Action    string    `json:"action"`
			CreatedAt time.Time `json:"created_at"`
			Resource  struct {
				GID          string `json:"gid"`
				ResourceType string `json:"resource_type"`
			} `json:"resource"`
		} `json:"events"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode asana payload: %w", err)
	}
	events := make([]Event, 0, len(payload.Events))
	for _, item := range payload.Events {
		if item.Action == "" || item.Resource.ResourceType == "" {
			continue
		}
		events = append(events, Event{
			Type:         item.Resource.ResourceType + "." + item.Action,
			Action:       item.Action,
			Timestamp:    item.CreatedAt,
			Source:       "asana",
			ResourceType: item.Resource.ResourceType,
			ResourceID:   item.Resource.GID,
			Payload: map[string]any{
				"resource": map[string]any{
					"gid":           item.Resource.GID,
					"resource_type": item.Resource.ResourceType,
				},
				"action": item.Action,
			},
		})
	}
	return events, nil
}

func parseMonday(req core.WebhookRequest) ([]Event, error) {
	var payload struct {
		Event map[string]any `json:"event"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode monday payload: %w", err)
	}
	if len(payload.Event) == 0 {
		return nil, fmt.Errorf("monday payload missing event object")
	}
	eventType, _ := payload.Event["type"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("monday event missing type")
	}
	var resourceID string
	if pulseID, ok := payload.Event["pulseId"].(float64); ok {
		resourceID = fmt.Sprintf("%.0f", pulseID)
	}
	return []Event{{
		Type:         eventType,
		Source:       "monday",
		ResourceType: "item",
		ResourceID:   resourceID,
		Payload:      payload.Event,
	}}, nil
}

func parseSlack(req core.WebhookRequest) ([]Event, error) {
	var payload struct {
		Type    string         `json:"type"`
		EventID string         `json:"event_id"`
		Event   map[string]any `json:"event"`
	}
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("decode slack payload: %w", err)
	}
	if payload.Type != "event_callback" || len(payload.Event) == 0 {
		return nil, fmt.Errorf("slack payload is not an event callback")
	}
	eventType, _ := payload.Event["type"].(string)
	if eventType == "" {
		return nil, fmt.Errorf("slack event missing type")
	}
	return []Event{{
		Type:       eventType,
		Source:     "slack",
		DeliveryID: payload.EventID,
		Payload:    payload.Event,
	}}, nil
}
