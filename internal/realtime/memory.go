package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var ErrOffline = errors.New("real-time store offline")

type memorySub struct {
	path string
	fn   func(Snapshot)
}

// Memory is an in-process Store. It can be taken offline to exercise the
// degraded paths of its callers.
type Memory struct {
	mu     sync.Mutex
	data   map[string]map[string]json.RawMessage
	subs   map[int]memorySub
	nextID int
	online bool
	links  []chan bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string]json.RawMessage), subs: make(map[int]memorySub), online: true}
}

func (m *Memory) Update(_ context.Context, writes map[string]any) error {
	grouped, err := encode(writes)
	if err != nil {
		return err
	}
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return ErrOffline
	}
	for parent, children := range grouped {
		if m.data[parent] == nil {
			m.data[parent] = make(map[string]json.RawMessage)
		}
		for k, v := range children {
			m.data[parent][k] = v
		}
	}
	var notify []func()
	for _, s := range m.subs {
		if _, ok := grouped[s.path]; ok {
			snap := m.snapshotLocked(s.path)
			fn := s.fn
			notify = append(notify, func() { fn(snap) })
		}
	}
	m.mu.Unlock()
	for _, n := range notify {
		n()
	}
	return nil
}

func (m *Memory) Once(_ context.Context, path string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.online {
		return nil, ErrOffline
	}
	return m.snapshotLocked(normalize(path)), nil
}

func (m *Memory) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error) {
	p := normalize(path)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = memorySub{path: p, fn: fn}
	snap := m.snapshotLocked(p)
	m.mu.Unlock()
	fn(snap)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return unsubscribe, nil
}

func (m *Memory) Connectivity(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	ch <- m.online
	m.links = append(m.links, ch)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.links {
			if c == ch {
				m.links = append(m.links[:i], m.links[i+1:]...)
				break
			}
		}
	}()
	return ch
}

// SetOnline flips the link state; while offline Update and Once fail.
func (m *Memory) SetOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online == online {
		return
	}
	m.online = online
	for _, c := range m.links {
		publishLatest(c, online)
	}
}

// Get returns the raw value stored at path.
func (m *Memory) Get(path string) (json.RawMessage, bool) {
	parent, child := split(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[parent][child]
	return v, ok
}

func (m *Memory) snapshotLocked(path string) Snapshot {
	out := make(Snapshot, len(m.data[path]))
	for k, v := range m.data[path] {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
