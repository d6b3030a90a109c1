package main

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/flowrunner/services/worker-service/internal/actions"
)

// bindEventTypes parses "event.type=action,other.type=action" and registers
// each event type as an alias of an already registered action.
func bindEventTypes(registry *actions.Registry, raw string) error {
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eventType, name, ok := strings.Cut(pair, "=")
		eventType, name = strings.TrimSpace(eventType), strings.TrimSpace(name)
		if !ok || eventType == "" || name == "" {
			return fmt.Errorf("EVENT_TYPE_ACTIONS: bad binding %q", pair)
		}
		a, ok := registry.Get(name)
		if !ok {
			return fmt.Errorf("EVENT_TYPE_ACTIONS: unknown action %q", name)
		}
		registry.RegisterAs(eventType, a)
	}
	return nil
}
