package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdAddress keeps the service base address under a single etcd key.
//
// The server publishes its address with a TTL lease, so the key disappears if the
// process dies without withdrawing it. Dispatchers read the key once at startup.
type EtcdAddress struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	key    string

	mu    sync.Mutex
	lease clientv3.LeaseID // set while published
}

// NewEtcdAddress connects to endpoints. The connection is lazy, so an offline
// cluster surfaces on the first Get or Put rather than here.
func NewEtcdAddress(endpoints []string, key string, dialTimeout time.Duration) (*EtcdAddress, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("config: etcd connect: %w", err)
	}
	return &EtcdAddress{client: c, key: key}, nil
}

// ServiceAddress reads the published address.
func (e *EtcdAddress) ServiceAddress(ctx context.Context) (string, error) {
	resp, err := e.client.Get(ctx, e.key)
	if err != nil {
		return "", fmt.Errorf("config: etcd get %s: %w", e.key, err)
	}
	if len(resp.Kvs) == 0 || len(resp.Kvs[0].Value) == 0 {
		return "", fmt.Errorf("%w: etcd key %s is empty", ErrNoAddress, e.key)
	}
	return string(resp.Kvs[0].Value), nil
}

// Publish stores addr under a lease of ttl seconds and keeps the lease alive until
// Withdraw or Close.
func (e *EtcdAddress) Publish(ctx context.Context, addr string, ttl int64) error {
	lease, err := e.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("config: etcd grant: %w", err)
	}
	if _, err := e.client.Put(ctx, e.key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("config: etcd put %s: %w", e.key, err)
	}

	// KeepAlive outlives the caller's ctx; it stops when the lease is revoked or the client closes
	ch, err := e.client.KeepAlive(context.Background(), lease.ID)
	if err != nil {
		return fmt.Errorf("config: etcd keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()

	e.mu.Lock()
	e.lease = lease.ID
	e.mu.Unlock()
	return nil
}

// Withdraw removes the published address and revokes its lease.
func (e *EtcdAddress) Withdraw(ctx context.Context) error {
	e.mu.Lock()
	lease := e.lease
	e.lease = clientv3.NoLease
	e.mu.Unlock()

	if _, err := e.client.Delete(ctx, e.key); err != nil {
		return fmt.Errorf("config: etcd delete %s: %w", e.key, err)
	}
	if lease != clientv3.NoLease {
		if _, err := e.client.Revoke(ctx, lease); err != nil {
			return fmt.Errorf("config: etcd revoke: %w", err)
		}
	}
	return nil
}

func (e *EtcdAddress) Close() error {
	return e.client.Close()
}
