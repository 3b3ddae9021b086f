package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BearBump/LastMile/config"
	"github.com/BearBump/LastMile/internal/broker/messages"
	"github.com/BearBump/LastMile/internal/integrations/routing/fake"
	"github.com/BearBump/LastMile/internal/integrations/routing/nominatim"
	"github.com/BearBump/LastMile/internal/kv/memkv"
	"github.com/BearBump/LastMile/internal/kv/rediskv"
	"github.com/BearBump/LastMile/internal/ratelimit"
	"github.com/BearBump/LastMile/internal/services/queue"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{Backend: "memory"},
		Routing: config.RoutingConfig{Provider: "fake"},
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &config.Config{Agent: config.AgentConfig{DeviceID: "van-12"}}
	applyDefaults(cfg)
	require.Equal(t, defaultHTTPAddr, cfg.Agent.HTTPAddr)
	require.Equal(t, "badger", cfg.Storage.Backend)
	require.Equal(t, "lastmile:van-12", cfg.Storage.KeyPrefix)
	require.Equal(t, "agent.events", cfg.Kafka.EventsTopic)
	require.Equal(t, 30, cfg.Carrier.TimeoutSeconds)
	require.Equal(t, 1.0, cfg.Routing.RatePerSecond)
	require.Equal(t, 2000, cfg.Geocode.CacheCap)
	require.Equal(t, 5, cfg.Geocode.BatchSize)
}

func TestOpenSubstrate(t *testing.T) {
	sub, err := openSubstrate(&config.Config{Storage: config.StorageConfig{Backend: "memory"}})
	require.NoError(t, err)
	require.IsType(t, &memkv.Substrate{}, sub)

	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	var p int
	_, err = fmt.Sscan(port, &p)
	require.NoError(t, err)
	sub, err = openSubstrate(&config.Config{
		Storage: config.StorageConfig{Backend: "redis", KeyPrefix: "lastmile:t"},
		Redis:   config.RedisConfig{Host: host, Port: p},
	})
	require.NoError(t, err)
	require.IsType(t, &rediskv.Substrate{}, sub)
	require.NoError(t, sub.Set(context.Background(), "k", []byte("v")))
	require.True(t, mr.Exists("lastmile:t:k"))
	require.NoError(t, sub.Close())

	_, err = openSubstrate(&config.Config{Storage: config.StorageConfig{Backend: "floppy"}})
	require.Error(t, err)
}

func TestDefaultFactories_Providers(t *testing.T) {
	f := defaultFactories()

	g, r := f.newProviders(&config.Config{Routing: config.RoutingConfig{Provider: "fake"}}, ratelimit.None())
	require.IsType(t, &fake.Provider{}, g)
	require.IsType(t, &fake.Provider{}, r)

	g, _ = f.newProviders(&config.Config{}, ratelimit.None())
	require.IsType(t, &nominatim.Client{}, g)

	lim, closeFn := f.newLimiter(&config.Config{Routing: config.RoutingConfig{RatePerSecond: 2}})
	require.IsType(t, &ratelimit.TokenBucket{}, lim)
	closeFn()

	mr := miniredis.RunT(t)
	host, port, _ := net.SplitHostPort(mr.Addr())
	var p int
	_, _ = fmt.Sscan(port, &p)
	lim, closeFn = f.newLimiter(&config.Config{
		Routing: config.RoutingConfig{SharedLimiter: true, RatePerSecond: 1},
		Redis:   config.RedisConfig{Host: host, Port: p},
	})
	require.IsType(t, &ratelimit.RedisWindow{}, lim)
	closeFn()
}

func TestBootstrap_Memory(t *testing.T) {
	a, err := bootstrap(context.Background(), memoryConfig(), defaultFactories())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.queue)
	require.NotNil(t, a.routes)
	require.Empty(t, a.session.Token())
	require.True(t, a.carrier.SnapshotMode(context.Background()))
}

type fakePublisher struct {
	got chan []byte
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.got <- value
	return nil
}

func TestRunServe_ServesForwardsAndStops(t *testing.T) {
	cfg := memoryConfig()
	a, err := bootstrap(context.Background(), cfg, defaultFactories())
	require.NoError(t, err)
	defer a.Close()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ready := make(chan struct{})
	pub := &fakePublisher{got: make(chan []byte, 16)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- runServe(ctx, a, lis, pub, serveOpts{onReady: func() { close(ready) }})
	}()
	<-ready

	resp, err := http.Get("http://" + lis.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post("http://"+lis.Addr().String()+"/session/login", "application/json",
		bytes.NewBufferString(`{"username":"demo","password":"demo"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case b := <-pub.got:
		var ev messages.AgentEvent
		require.NoError(t, json.Unmarshal(b, &ev))
		require.Equal(t, cfg.Agent.DeviceID, ev.DeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(defaultFactories())
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_LoginQueueDrainLogout(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "lastmile.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
agent:
  device_id: "van-12"
storage:
  backend: "badger"
  badger_path: %q
routing:
  provider: "fake"
log:
  level: "error"
`, filepath.Join(dir, "db"))), 0o600))

	out, err := runCLI(t, cfgPath, "drain")
	require.ErrorContains(t, err, "not logged in")

	out, err = runCLI(t, cfgPath, "login", "-u", "demo", "-p", "demo")
	require.NoError(t, err)
	require.Contains(t, out, "logged in as demo (Dispatcher)")

	out, err = runCLI(t, cfgPath, "queue", "list", "--json")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, out)

	out, err = runCLI(t, cfgPath, "drain")
	require.NoError(t, err)
	var rep queue.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Zero(t, rep.Synced)

	out, err = runCLI(t, cfgPath, "queue", "clear")
	require.NoError(t, err)
	require.Contains(t, out, "removed 0")

	_, err = runCLI(t, cfgPath, "logout")
	require.NoError(t, err)
	_, err = runCLI(t, cfgPath, "drain")
	require.ErrorContains(t, err, "not logged in")
}

func TestCLI_EventsTailRequiresKafka(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  backend: memory\n"), 0o600))
	_, err := runCLI(t, cfgPath, "events", "tail")
	require.ErrorContains(t, err, "kafka is not configured")
}

type fakeConsumer struct {
	msgs   [][]byte
	closed bool
}

func (c *fakeConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for _, m := range c.msgs {
		if err := handler([]byte("van-12"), m); err != nil {
			return err
		}
	}
	return context.Canceled
}

func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}

func TestTailEvents(t *testing.T) {
	ev, err := json.Marshal(messages.AgentEvent{
		DeviceID: "van-12",
		Type:     "queue-drained",
		At:       time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		Payload:  json.RawMessage(`{"synced":1}`),
	})
	require.NoError(t, err)
	cons := &fakeConsumer{msgs: [][]byte{[]byte("not json"), ev}}

	var out bytes.Buffer
	err = tailEvents(context.Background(), cons, &out)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, cons.closed)
	require.Contains(t, out.String(), "van-12\tqueue-drained\t{\"synced\":1}")
}
