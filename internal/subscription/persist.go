// JSON persistence for the manager's entities. The state file holds two
// arrays, subscriptions and complete_downloads, and is always written to a
// temporary path first and renamed over the canonical one, so a crash
// mid-write cannot leave a corrupt file behind.

package subscription

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vrsandeep/feedsub-go/internal/models"
)

type stateFile struct {
	Subscriptions     []*models.Subscription     `json:"subscriptions"`
	CompleteDownloads []*models.CompleteDownload `json:"complete_downloads"`
}

func loadState(path string) (*stateFile, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &stateFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return &state, nil
}

// writeStateFile writes pre-encoded state. Encoding happens on the caller's
// side, under the manager lock, so concurrent entity mutations cannot race
// the encoder.
func writeStateFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".subscriptions-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
