// Package kv is the only component that touches durable storage. Values are
// JSON; the bytes live in a Substrate (badger, redis, postgres or memory).
package kv

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/pkg/errors"
)

var (
	// ErrStorageFull is returned by substrates when a write exceeds the quota.
	ErrStorageFull = errors.New("storage quota exceeded")
	// ErrUnavailable is returned by substrates that cannot be reached.
	ErrUnavailable = errors.New("storage unavailable")
)

type Substrate interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type Store struct {
	sub Substrate
}

func New(sub Substrate) *Store {
	return &Store{sub: sub}
}

// Get decodes the value at key into dst. Returns false when absent.
func (s *Store) Get(ctx context.Context, key string, dst any) (bool, error) {
	b, ok, err := s.sub.Get(ctx, key)
	if err != nil {
		return false, classify("kv get "+key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return false, errors.Wrapf(err, "kv decode %s", key)
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "kv encode %s", key)
	}
	if err := s.sub.Set(ctx, key, b); err != nil {
		return classify("kv set "+key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.sub.Delete(ctx, key); err != nil {
		return classify("kv remove "+key, err)
	}
	return nil
}

// Keys lists keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.sub.Keys(ctx, prefix)
	if err != nil {
		return nil, classify("kv keys", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Close() error {
	return s.sub.Close()
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrStorageFull):
		return apperr.Wrap(apperr.KindStorageFull, op, err)
	case errors.Is(err, ErrUnavailable):
		return apperr.Wrap(apperr.KindNetwork, op, err)
	default:
		return errors.Wrap(err, op)
	}
}
