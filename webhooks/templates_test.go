package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/worksync/go-trackers/core"
)

func TestLinearTemplateEndToEnd(t *testing.T) {
	secret := "lin_whsec"
	template := NewLinearWebhookTemplate(secret)
	d := template.NewDispatcher()

	var got Event
	if _, err := d.On("issue.update", func(_ context.Context, event Event) error {
		got = event
		return nil
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	body := []byte(`{"action":"update","type":"Issue","data":{"id":"iss-1","title":"t"},"webhookId":"wh-1"}`)
	resp, err := d.HandleRequest(context.Background(), core.WebhookRequest{
		Provider: "linear",
		Body:     body,
		Headers:  map[string]string{"Linear-Signature": hexHMACSHA256(secret, body)},
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got.Type != "issue.update" || got.ResourceID != "iss-1" || got.ResourceType != "issue" {
		t.Fatalf("event = %+v", got)
	}
}

func TestGitHubTemplateUsesEventHeader(t *testing.T) {
	secret := "gh_whsec"
	template := NewGitHubWebhookTemplate(secret)

	body := []byte(`{"action":"opened","issue":{"number":41}}`)
	req := core.WebhookRequest{
		Provider: "github",
		Body:     body,
		Headers: map[string]string{
			"X-Hub-Signature-256": "sha256=" + hexHMACSHA256(secret, body),
			"X-GitHub-Event":      "issues",
			"X-GitHub-Delivery":   "gh-dlv-1",
		},
	}
	if err := template.Verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	events, err := template.Parse(req)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Type != "issues.opened" || events[0].ResourceID != "41" || events[0].DeliveryID != "gh-dlv-1" {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestTrelloTemplateBindsCallbackURL(t *testing.T) {
	secret := "trello_secret"
	callback := "https://hooks.example.com/trello"
	template := NewTrelloWebhookTemplate(secret, callback)

	body := []byte(`{"action":{"id":"act-1","type":"updateCard","data":{"card":{"id":"card-9"}}}}`)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callback))

	req := core.WebhookRequest{
		Provider: "trello",
		Body:     body,
		Headers:  map[string]string{"X-Trello-Webhook": base64.StdEncoding.EncodeToString(mac.Sum(nil))},
	}
	if err := template.Verifier.Verify(context.Background(), req); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	events, err := template.Parse(req)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].Type != "updateCard" || events[0].ResourceID != "card-9" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].DeliveryID != "act-1" {
		t.Fatalf("delivery id = %q, want action id", events[0].DeliveryID)
	}
}

func TestAsanaTemplateBatchFanOut(t *testing.T) {
	secret := "asana_hook"
	template := NewAsanaWebhookTemplate(secret)
	d := template.NewDispatcher()

	var seen []string
	if _, err := d.On("*", func(_ context.Context, event Event) error {
		seen = append(seen, event.Type)
		return nil
	}); err != nil {
		t.Fatalf("On: %v", err)
	}

	body := []byte(`{"events":[
		{"action":"changed","resource":{"gid":"100","resource_type":"task"}},
		{"action":"added","resource":{"gid":"200","resource_type":"story"}}
	]}`)
	resp, err := d.HandleRequest(context.Background(), core.WebhookRequest{
		Provider: "asana",
		Body:     body,
		Headers:  map[string]string{"X-Hook-Signature": hexHMACSHA256(secret, body)},
	})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(seen) != 2 || seen[0] != "task.changed" || seen[1] != "story.added" {
		t.Fatalf("seen = %v", seen)
	}
}

func TestMondayTemplateChallengeAndEvents(t *testing.T) {
	template := NewMondayWebhookTemplate("monday_token")
	d := template.NewDispatcher()

	challenge := []byte(`{"challenge":"mon-ch-1"}`)
	resp, err := d.HandleRequest(context.Background(), core.WebhookRequest{Provider: "monday", Body: challenge})
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if resp.StatusCode != http.StatusOK || resp.Body == "" {
		t.Fatalf("challenge resp = %+v", resp)
	}

	body := []byte(`{"event":{"type":"update_column_value","pulseId":777}}`)
	events, err := template.Parse(core.WebhookRequest{Provider: "monday", Body: body})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].Type != "update_column_value" || events[0].ResourceID != "777" {
		t.Fatalf("events = %+v", events)
	}
}

func TestSlackTemplateParsesEventCallback(t *testing.T) {
	template := NewSlackWebhookTemplate("slack_signing")

	body := []byte(`{"type":"event_callback","event_id":"Ev123","event":{"type":"message","text":"hi"}}`)
	events, err := template.Parse(core.WebhookRequest{Provider: "slack", Body: body})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(events) != 1 || events[0].Type != "message" || events[0].DeliveryID != "Ev123" {
		t.Fatalf("events = %+v", events)
	}

	if _, err := template.Parse(core.WebhookRequest{Body: []byte(`{"type":"other"}`)}); err == nil {
		t.Fatal("non event_callback payload must fail to parse")
	}
}
