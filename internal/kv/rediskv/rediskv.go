package rediskv

import (
	"context"
	"strings"

	"github.com/BearBump/LastMile/internal/kv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Substrate keeps agent state in redis under "<namespace>:<key>". Used on depot
// kiosks where several agents share one redis (each with its own namespace).
type Substrate struct {
	c         *redis.Client
	namespace string
}

func New(addr, namespace string) *Substrate {
	return &Substrate{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		namespace: namespace,
	}
}

func (r *Substrate) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Substrate) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(classify(err), "redis get")
	}
	return val, true, nil
}

func (r *Substrate) Set(ctx context.Context, key string, value []byte) error {
	if err := r.c.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return errors.Wrap(classify(err), "redis set")
	}
	return nil
}

func (r *Substrate) Delete(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(classify(err), "redis del")
	}
	return nil
}

func (r *Substrate) Keys(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := r.c.Scan(ctx, 0, r.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if r.namespace != "" {
			k = strings.TrimPrefix(k, r.namespace+":")
		}
		out = append(out, k)
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(classify(err), "redis scan")
	}
	return out, nil
}

func (r *Substrate) Close() error {
	return r.c.Close()
}

// classify maps "OOM command not allowed" (maxmemory reached) to kv.ErrStorageFull
// and everything else to kv.ErrUnavailable.
func classify(err error) error {
	if strings.Contains(err.Error(), "OOM") {
		return errors.Wrap(kv.ErrStorageFull, err.Error())
	}
	return errors.Wrap(kv.ErrUnavailable, err.Error())
}
