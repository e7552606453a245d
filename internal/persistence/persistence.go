// Package persistence stores in-progress flow states so an interrupted
// session can resume where it left off.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/trinity/guided-upload/internal/models"
)

// EnvelopeVersion is the version written by Save.
const EnvelopeVersion = 1

const keyPrefix = "guided-upload"

var (
	ErrUnsupportedVersion = errors.New("unsupported flow state version")
	ErrCorruptState       = errors.New("corrupt flow state")
	ErrUnknownDriver      = errors.New("unknown persistence driver")
)

// Envelope is a persisted flow state. Primed marks a flow that was completed.
type Envelope struct {
	Version int                          `json:"version" msgpack:"version"`
	SavedAt time.Time                    `json:"savedAt" msgpack:"savedAt"`
	Primed  bool                         `json:"primed" msgpack:"primed"`
	State   models.GuidedUploadFlowState `json:"state" msgpack:"state"`
}

// StatePersistence loads and saves flow states by key. Load returns nil and
// no error when nothing is stored under key.
type StatePersistence interface {
	Load(ctx context.Context, key string) (*Envelope, error)
	Save(ctx context.Context, key string, env Envelope) error
	Delete(ctx context.Context, key string) error
}

// Store is a StatePersistence holding resources that must be released.
type Store interface {
	StatePersistence
	io.Closer
}

// Key scopes a flow key to its tenant.
func Key(env models.Environment, flowKey string) string {
	part := func(s string) string {
		s = strings.TrimSpace(s)
		if s == "" {
			return "_"
		}
		return s
	}
	return strings.Join([]string{keyPrefix, part(env.ClientID), part(env.AppID), part(env.ProjectID), part(flowKey)}, ":")
}

// NewEnvelope wraps a state for saving.
func NewEnvelope(state models.GuidedUploadFlowState, primed bool) Envelope {
	return Envelope{Version: EnvelopeVersion, SavedAt: time.Now().UTC(), Primed: primed, State: state}
}

// check validates an envelope read back from a backend.
func check(key string, env *Envelope) error {
	if env.Version != EnvelopeVersion {
		return fmt.Errorf("%w: %d under %s", ErrUnsupportedVersion, env.Version, key)
	}
	if !env.State.Valid() {
		return fmt.Errorf("%w: %s", ErrCorruptState, key)
	}
	return nil
}

// Open creates the store for a driver: "file" and "duckdb" keep their data
// under dir, "memory" keeps it in process. duck only applies to "duckdb".
func Open(driver, dir string, duck DuckOptions) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "file":
		return NewFileStore(filepath.Join(dir, "flows"))
	case "duckdb":
		return NewDuckStore(filepath.Join(dir, "flows.duckdb"), duck)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}
