// Package memkv is an in-process kv substrate. With a quota it reports
// kv.ErrStorageFull like a browser storage would.
package memkv

import (
	"context"
	"strings"
	"sync"

	"github.com/BearBump/LastMile/internal/kv"
)

type Substrate struct {
	mu    sync.RWMutex
	m     map[string][]byte
	quota int
	used  int
}

func New() *Substrate {
	return &Substrate{m: map[string][]byte{}}
}

// WithQuota limits the total stored bytes (keys + values). 0 disables the limit.
func (s *Substrate) WithQuota(bytes int) *Substrate {
	s.quota = bytes
	return s
}

func (s *Substrate) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte{}, v...), true, nil
}

func (s *Substrate) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := s.used
	if old, ok := s.m[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if s.quota > 0 && used > s.quota {
		return kv.ErrStorageFull
	}
	s.m[key] = append([]byte{}, value...)
	s.used = used
	return nil
}

func (s *Substrate) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.m[key]; ok {
		s.used -= len(key) + len(old)
		delete(s.m, key)
	}
	return nil
}

func (s *Substrate) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.m))
	for k := range s.m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Substrate) Close() error { return nil }
