package objstore

import (
	"context"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
)

// Open builds the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg am.ObjectStoreConfig) (Store, error) {
	switch cfg.Backend {
	case am.ObjectStoreFS, "":
		store, err := NewFSStore(cfg.Root)
		if err != nil {
			return nil, err
		}
		return store, nil
	case am.ObjectStoreS3:
		store, err := ConnectS3(ctx, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return store, nil
	case am.ObjectStoreMemory:
		return NewMemoryStore(), nil
	}
	return nil, errors.Newf("unknown object store backend %q", cfg.Backend)
}
