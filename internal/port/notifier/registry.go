package notifier

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Factory builds a Notifier from its channel settings.
type Factory func(settings map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a channel available by name. Adapters call it from init.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New builds the channel registered under name.
func New(name string, settings map[string]string) (Notifier, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown channel %q (available: %v)", name, Available())
	}
	return factory(settings)
}

// Build creates one notifier per configured channel, in name order.
// Channels whose settings are all blank are skipped.
func Build(channels map[string]map[string]string) ([]Notifier, error) {
	var out []Notifier
	for _, name := range slices.Sorted(maps.Keys(channels)) {
		settings := channels[name]
		if blank(settings) {
			continue
		}
		n, err := New(name, settings)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Available returns the registered channel names, sorted.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Sorted(maps.Keys(factories))
}

func blank(settings map[string]string) bool {
	for _, v := range settings {
		if v != "" {
			return false
		}
	}
	return true
}
