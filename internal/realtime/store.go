// Package realtime abstracts the key-addressed real-time store both sides
// talk to. Paths look like "/units/DT-06"; a subscription on "/units"
// receives every child of that path each time one of them changes.
package realtime

import (
	"context"
	"encoding/json"
	"strings"
)

// Snapshot maps child keys under a path to their raw JSON values.
type Snapshot map[string]json.RawMessage

type Store interface {
	// Update applies path-keyed partial writes; each value replaces the child it names.
	Update(ctx context.Context, writes map[string]any) error
	Once(ctx context.Context, path string) (Snapshot, error)
	// Subscribe delivers the current value immediately and again after every
	// change under path until the returned func is called or ctx ends.
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error)
	// Connectivity emits the current link state and then every change.
	Connectivity(ctx context.Context) <-chan bool
}

// split turns "/units/DT-06" into ("units", "DT-06").
func split(path string) (parent, child string) {
	p := strings.Trim(path, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

func normalize(path string) string { return strings.Trim(path, "/") }

func encode(writes map[string]any) (map[string]map[string][]byte, error) {
	grouped := make(map[string]map[string][]byte)
	for path, v := range writes {
		parent, child := split(path)
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if grouped[parent] == nil {
			grouped[parent] = make(map[string][]byte)
		}
		grouped[parent][child] = b
	}
	return grouped, nil
}

// publishLatest replaces whatever is buffered in ch with v.
func publishLatest(ch chan bool, v bool) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
