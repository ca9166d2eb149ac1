// Management of the external fetch tool itself: install, update, version
// queries and building download invocations. Install and update take the
// write side of a process-wide lock; every fetch holds the read side, so an
// update can never rewrite the tool under a running fetch.

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/vrsandeep/feedsub-go/internal/models"
)

const (
	toolPkg       = "gallery-dl"
	toolGithub    = "https://github.com/mikf/gallery-dl"
	pipCmdTimeout = 10 * time.Minute
)

// ToolManager owns the gallery-dl installation and builds download commands
// for it.
type ToolManager struct {
	configPath  string
	storePath   string
	idleTimeout time.Duration
	maxRuntime  time.Duration

	installLock sync.RWMutex

	mu          sync.Mutex
	lastUpdate  time.Time
	installType string
}

// NewToolManager creates a ToolManager. configPath may be empty if the tool
// runs without a base config file.
func NewToolManager(configPath, storePath string, idleTimeout, maxRuntime time.Duration) *ToolManager {
	return &ToolManager{
		configPath:  configPath,
		storePath:   storePath,
		idleTimeout: idleTimeout,
		maxRuntime:  maxRuntime,
	}
}

// runPip runs a pip subcommand to completion and returns its stdout.
func runPip(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pipCmdTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "pip", args...)
	out, err := cmd.Output()
	if err != nil {
		var stderr string
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return "", fmt.Errorf("pip %s: %w: %s", strings.Join(args, " "), err, stderr)
	}
	return string(out), nil
}

// Version reports the installed gallery-dl version, or "Unknown" when pip
// has no record of it.
func (m *ToolManager) Version(ctx context.Context) (string, error) {
	log.Println("Checking gallery-dl version")
	m.installLock.RLock()
	defer m.installLock.RUnlock()
	out, err := runPip(ctx, "show", toolPkg)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "Version: "); ok {
			return strings.TrimSpace(v), nil
		}
	}
	return "Unknown", nil
}

// NewerVersion reports whether candidate is a strictly newer release than
// current. Unparseable versions compare as not newer.
func NewerVersion(current, candidate string) bool {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return false
	}
	cand, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	return cand.GreaterThan(cur)
}

// Install installs the stable release of gallery-dl.
func (m *ToolManager) Install(ctx context.Context) error {
	log.Println("Installing gallery-dl")
	m.installLock.Lock()
	defer m.installLock.Unlock()
	if _, err := runPip(ctx, "install", toolPkg); err != nil {
		return err
	}
	m.markUpdated("stable")
	return nil
}

// Update reinstalls the latest stable release of gallery-dl.
func (m *ToolManager) Update(ctx context.Context) error {
	log.Println("Updating gallery-dl")
	m.installLock.Lock()
	defer m.installLock.Unlock()
	if _, err := runPip(ctx, "install", "-U", toolPkg, "--force-reinstall"); err != nil {
		return err
	}
	m.markUpdated("stable")
	return nil
}

// UpdatePrerelease installs the development version straight from GitHub.
func (m *ToolManager) UpdatePrerelease(ctx context.Context) error {
	log.Println("Updating gallery-dl to dev version")
	m.installLock.Lock()
	defer m.installLock.Unlock()
	if _, err := runPip(ctx, "install", "-U", "--force-reinstall", "git+"+toolGithub); err != nil {
		return err
	}
	m.markUpdated("dev")
	return nil
}

func (m *ToolManager) markUpdated(installType string) {
	m.mu.Lock()
	m.lastUpdate = time.Now().UTC()
	m.installType = installType
	m.mu.Unlock()
}

// LastUpdate reports when the tool was last installed or updated in this
// process, and whether that was a stable or dev install.
func (m *ToolManager) LastUpdate() (time.Time, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate, m.installType
}

// UpdateNeeded reports whether the tool has never been installed by this
// process.
func (m *ToolManager) UpdateNeeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUpdate.IsZero()
}

// CheckInstall installs the tool if this process has not done so yet.
func (m *ToolManager) CheckInstall(ctx context.Context) error {
	if m.UpdateNeeded() {
		return m.Install(ctx)
	}
	return nil
}

// MergedConfigFile writes a one-off tool config combining the base config
// with the given overrides, and returns its path. Maps merge recursively;
// anything else is overridden.
func (m *ToolManager) MergedConfigFile(overrides map[string]interface{}) (string, error) {
	base := map[string]interface{}{}
	if m.configPath != "" {
		data, err := os.ReadFile(m.configPath)
		if err != nil {
			return "", fmt.Errorf("read base tool config: %w", err)
		}
		if err := json.Unmarshal(data, &base); err != nil {
			return "", fmt.Errorf("parse base tool config: %w", err)
		}
	}
	merged := mergeMaps(base, overrides)

	configDir := filepath.Join(m.storePath, "configs")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(configDir, uuid.New().String()+".json")
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func mergeMaps(base, overrides map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		if overMap, ok := v.(map[string]interface{}); ok {
			if baseMap, ok := out[k].(map[string]interface{}); ok {
				out[k] = mergeMaps(baseMap, overMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// DownloadArgs builds the argv for fetching a link into a storage path. The
// tool maintains its own dedup archive next to the downloaded files.
func (m *ToolManager) DownloadArgs(link models.Link, dlPath string) []string {
	archivePath := filepath.Join(dlPath, "archive.sqlite")
	args := []string{toolPkg}
	if m.configPath != "" && !hasConfigArg(link) {
		args = append(args, "-c", m.configPath)
	}
	args = append(args,
		"--write-metadata",
		"--write-info-json",
		"-o", "output.skip=false",
		"-d", dlPath,
		"--download-archive", archivePath,
	)
	return append(args, link.ToolArgs()...)
}

func hasConfigArg(link models.Link) bool {
	for _, arg := range link.Args {
		if arg == "-c" {
			return true
		}
	}
	return false
}

// DownloadCommand builds the streaming invocation that fetches a link into
// a storage path, read-locked against tool updates.
func (m *ToolManager) DownloadCommand(link models.Link, dlPath string) Streamer {
	return NewCommand(m.DownloadArgs(link, dlPath), m.idleTimeout, m.maxRuntime, &m.installLock)
}
