package registry

import (
	"github.com/deepdriveio/botworker/pkg/identity"
)

// New selects a Store backend the way the original worker's get_db()
// does: test mode uses the in-memory store unless FORCE_FIRESTORE_DB
// is set, otherwise SHOULD_USE_FIRESTORE picks durable vs in-memory.
// "Firestore" in the original maps to our durable bbolt-backed store.
func New(cfg identity.Config, dataDir string) (Store, error) {
	if !cfg.UseDurableRegistry() {
		return NewMemoryStore(), nil
	}
	return NewBoltStore(dataDir)
}
