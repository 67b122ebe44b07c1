package alerting

import (
	"context"
	"strings"
)

// SubscriberSource lists the chat identifiers that receive alerts.
type SubscriberSource interface {
	ListSubscriberIDs(ctx context.Context) ([]string, error)
}

// StaticSubscribers is a fixed list, typically from configuration.
type StaticSubscribers []string

func (s StaticSubscribers) ListSubscriberIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(s))
	for _, id := range s {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// MultiSource concatenates sources, dropping duplicate identifiers. Any source
// failing fails the whole lookup.
type MultiSource []SubscriberSource

func (m MultiSource) ListSubscriberIDs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, src := range m {
		list, err := src.ListSubscriberIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
