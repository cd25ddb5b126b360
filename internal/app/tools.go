package app

import (
	"context"
	"fmt"

	"callrelay/internal/config"
	"callrelay/internal/relay"
	"callrelay/internal/storage"
	"callrelay/pkg/logx"
)

// OpenStore loads the config at cfgPath and opens only its store.
func OpenStore(cfgPath string, log logx.Logger) (storage.Store, error) {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("storage is disabled in %s", cfgPath)
	}
	return storage.Open(sc, log)
}

// Probe builds the app without starting it and reports relay health.
func Probe(ctx context.Context, cfgPath string) (relay.Health, error) {
	a, err := NewApp(cfgPath)
	if err != nil {
		return relay.Health{}, err
	}
	defer func() { _ = a.Close() }()
	return a.relay.Health(ctx), nil
}
