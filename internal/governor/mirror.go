package governor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/terminal-bench/timemarket/pkg/messaging"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultParamsKey is the etcd key sibling services watch for the current
// parameter set.
const DefaultParamsKey = "/timemarket/params"

// Mirror publishes the parameter set to etcd so other services can watch
// it instead of polling the exchange API.
type Mirror struct {
	cli     *clientv3.Client
	key     string
	timeout time.Duration
}

// NewMirror creates a mirror writing to the given key.
func NewMirror(cli *clientv3.Client, key string) *Mirror {
	if key == "" {
		key = DefaultParamsKey
	}
	return &Mirror{
		cli:     cli,
		key:     key,
		timeout: 3 * time.Second,
	}
}

// Publish writes the parameter set to etcd.
func (m *Mirror) Publish(ctx context.Context, p messaging.ParamsEvent) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if _, err := m.cli.Put(ctx, m.key, string(payload)); err != nil {
		return fmt.Errorf("failed to mirror params: %w", err)
	}
	return nil
}

// Watch streams parameter updates from etcd. Used by sibling services;
// the exchange itself only writes.
func (m *Mirror) Watch(ctx context.Context) <-chan messaging.ParamsEvent {
	out := make(chan messaging.ParamsEvent, 1)

	go func() {
		defer close(out)
		for resp := range m.cli.Watch(ctx, m.key) {
			for _, evt := range resp.Events {
				var p messaging.ParamsEvent
				if err := json.Unmarshal(evt.Kv.Value, &p); err != nil {
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}
