package persistence

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/connexthings/nbiot-go/pkg/coap"
	"github.com/connexthings/nbiot-go/pkg/things"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// DeviceState contains the runtime state of the device.
type DeviceState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Things holds the observe tokens of each registered thing.
	Things []ThingState `json:"things,omitempty"`
}

// ThingState holds the persistent tokens of one thing as hex strings.
type ThingState struct {
	ID               string `json:"id"`
	SharedAttrToken  string `json:"shared_attr_token,omitempty"`
	IncomingRPCToken string `json:"incoming_rpc_token,omitempty"`
}

// Snapshot captures the observe tokens of every thing in reg.
func Snapshot(reg *things.Registry) *DeviceState {
	state := &DeviceState{}
	for _, t := range reg.Things() {
		state.Things = append(state.Things, ThingState{
			ID:               t.ID(),
			SharedAttrToken:  t.Token(things.SlotSharedAttrObserve).String(),
			IncomingRPCToken: t.Token(things.SlotIncomingRPCObserve).String(),
		})
	}
	return state
}

// Restore presets the observe tokens of configs from the saved state.
// Tokens already set in a config win. It returns how many tokens were
// restored.
func (s *DeviceState) Restore(configs []things.ThingConfig) (int, error) {
	if s == nil {
		return 0, nil
	}
	byID := make(map[string]ThingState, len(s.Things))
	for _, ts := range s.Things {
		byID[ts.ID] = ts
	}

	restored := 0
	for i := range configs {
		ts, ok := byID[configs[i].ID]
		if !ok {
			continue
		}
		n, err := restoreToken(&configs[i].SharedAttrToken, ts.SharedAttrToken)
		if err != nil {
			return restored, fmt.Errorf("thing %q shared attribute token: %w", ts.ID, err)
		}
		restored += n
		n, err = restoreToken(&configs[i].IncomingRPCToken, ts.IncomingRPCToken)
		if err != nil {
			return restored, fmt.Errorf("thing %q incoming rpc token: %w", ts.ID, err)
		}
		restored += n
	}
	return restored, nil
}

func restoreToken(dst *coap.Token, saved string) (int, error) {
	if !dst.IsZero() || saved == "" {
		return 0, nil
	}
	b, err := hex.DecodeString(saved)
	if err != nil {
		return 0, err
	}
	if len(b) != coap.TokenLength {
		return 0, fmt.Errorf("token length %d", len(b))
	}
	copy(dst[:], b)
	return 1, nil
}

// ErrUnsupportedVersion is returned by Load for a state file written by a
// newer firmware.
var ErrUnsupportedVersion = errors.New("persistence: unsupported state version")

// DeviceStateStore keeps the device state in a JSON file. Writes go to a
// temporary file that replaces the old one, so a power cut leaves either
// the previous or the new state on disk.
type DeviceStateStore struct {
	mu   sync.Mutex
	path string
}

// NewDeviceStateStore returns a store backed by path.
func NewDeviceStateStore(path string) *DeviceStateStore {
	return &DeviceStateStore{path: path}
}

// Save writes state, stamping its version and, if unset, its save time.
func (s *DeviceStateStore) Save(state *DeviceState) error {
	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	_, err = tmp.Write(append(data, '\n'))
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.path)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
	}
	return err
}

// Load reads the saved state. A missing file yields nil state and no
// error.
func (s *DeviceStateStore) Load() (*DeviceState, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var state DeviceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("persistence: decode %s: %w", s.path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, state.Version)
	}
	return &state, nil
}

// Clear removes the state file. Clearing a missing file is not an error.
func (s *DeviceStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
