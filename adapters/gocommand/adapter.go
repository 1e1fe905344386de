// Package gocommand wires webhook traffic into the go-command bus.
// Inbound events verified by a webhooks.Dispatcher can be forwarded as
// command messages so downstream handlers (sync pipelines, queue
// mirrors) subscribe through one registry instead of per-provider
// callbacks.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	"github.com/worksync/go-trackers/webhooks"
)

// WebhookEventMessageType identifies forwarded webhook events on the bus.
const WebhookEventMessageType = "trackers.webhooks.event"

// WebhookEventMessage carries a verified webhook event across the
// command bus. Provider is the tracker that emitted the event.
type WebhookEventMessage struct {
	Provider string
	Event    webhooks.Event
}

func (WebhookEventMessage) Type() string { return WebhookEventMessageType }

func (m WebhookEventMessage) Validate() error {
	if strings.TrimSpace(m.Provider) == "" {
		return fmt.Errorf("gocommand: webhook event provider is required")
	}
	if strings.TrimSpace(m.Event.Type) == "" {
		return fmt.Errorf("gocommand: webhook event type is required")
	}
	return nil
}

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// ForwardWebhookEvents subscribes to the dispatcher for eventType and
// republishes every delivery as a WebhookEventMessage. The returned
// function removes the subscription.
func ForwardWebhookEvents(dispatcher *webhooks.Dispatcher, eventType string) (func(), error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("gocommand: webhook dispatcher is required")
	}
	return dispatcher.On(eventType, func(ctx context.Context, event webhooks.Event) error {
		return Dispatch(ctx, WebhookEventMessage{
			Provider: dispatcher.Provider,
			Event:    event,
		})
	})
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue
// registry so webhook-triggered work can be executed off-process.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

// RegisterAndSubscribe registers the command with the registry and
// subscribes it on the in-process dispatcher in one step, tearing the
// subscription down if registration fails.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
