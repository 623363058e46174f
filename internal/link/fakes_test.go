package link

import (
	"context"
	"sync"

	"github.com/ixsystems/zlinkd/internal/rpc"
)

type memStore struct {
	mu    sync.Mutex
	links map[string]Link
}

func newMemStore(seed ...Link) *memStore {
	s := &memStore{links: make(map[string]Link)}
	for _, l := range seed {
		s.links[l.Name] = l
	}
	return s
}

func (s *memStore) Get(_ context.Context, name string) (Link, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[name]
	return l, ok, nil
}

func (s *memStore) Put(_ context.Context, l Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[l.Name] = l
	return nil
}

func (s *memStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, name)
	return nil
}

func (s *memStore) List(_ context.Context) ([]Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out, nil
}

var _ Datastore = (*memStore)(nil)

type fakePeer struct {
	mu sync.Mutex

	calls []string

	// handler, if set, is invoked per CallTask and fully controls the
	// response; otherwise results/errs below are used.
	handler func(name string, args any) (rpc.TaskResult, error)

	results map[string]rpc.TaskResult
	errs    map[string]error
}

func newFakePeer() *fakePeer {
	return &fakePeer{results: map[string]rpc.TaskResult{}, errs: map[string]error{}}
}

func (p *fakePeer) CallTask(_ context.Context, name string, args any) (rpc.TaskResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, name)
	p.mu.Unlock()

	if p.handler != nil {
		return p.handler(name, args)
	}
	if err, ok := p.errs[name]; ok {
		return rpc.TaskResult{}, err
	}
	if res, ok := p.results[name]; ok {
		return res, nil
	}
	return rpc.TaskResult{State: rpc.TaskFinished}, nil
}

var _ Peer = (*fakePeer)(nil)

type memConfigStore struct {
	mu   sync.Mutex
	vals map[string][]byte
}

func newMemConfigStore() *memConfigStore {
	return &memConfigStore{vals: map[string][]byte{}}
}

func (s *memConfigStore) GetConfigValue(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vals[key]
	return v, ok, nil
}

func (s *memConfigStore) SetConfigValue(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}

var _ ConfigStore = (*memConfigStore)(nil)
