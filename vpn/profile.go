// Package vpn provides the desktop implementation of the VPN profile
// store and tunnel provider.
// This file contains the Profile type and the FileStore that keeps
// installed profiles on disk.
package vpn

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yllada/vpn-client/common"
	"github.com/yllada/vpn-client/tunnel"
)

// Common errors returned by profile operations.
var (
	ErrProfileNotFound = common.ErrProfileNotFound
	ErrInvalidConfig   = common.ErrInvalidConfig
)

const (
	profileExt = ".yaml"
	configExt  = ".ovpn"
)

// Profile is an installed VPN profile.
type Profile struct {
	// ID is a unique identifier for the profile (UUID format).
	ID string `yaml:"id"`
	// Name is a human-readable name for the profile.
	Name string `yaml:"name"`
	// ConfigPath is the installed copy of the OpenVPN configuration.
	ConfigPath string `yaml:"config_path"`
	// Created is the timestamp when the profile was installed.
	Created time.Time `yaml:"created"`
	// SplitTunnelRoutes lists the IPs/networks routed through the tunnel.
	// Empty means all traffic uses the tunnel.
	SplitTunnelRoutes []string `yaml:"split_tunnel_routes,omitempty"`
}

// Validate checks if the profile has all required fields.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: id is required", common.ErrInvalidProfile)
	}
	if p.ConfigPath == "" {
		return fmt.Errorf("%w: config path is required", common.ErrInvalidProfile)
	}
	return nil
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Dir holds installed profiles. Defaults to <config dir>/profiles.
	Dir string
	// Template is the OpenVPN configuration copied on install.
	Template string
	// Name is given to installed profiles.
	Name string
	// Routes are the split tunnel routes of installed profiles.
	Routes []string
	// Manager configures the tunnel process of loaded profiles. Its
	// EgressRegion and OnUnexpectedExit hooks are owned by the store.
	Manager ManagerConfig
}

// FileStore implements tunnel.ProfileStore with one YAML document and one
// configuration file per profile. Loading the same profile twice returns
// the same *Manager.
type FileStore struct {
	cfg FileStoreConfig

	mu          sync.Mutex
	managers    map[string]*Manager
	onHomepages func(urls []string)

	// hooksMu guards the fields read by running managers. It is never
	// held together with mu.
	hooksMu sync.RWMutex
	region  string
	onExit  func(id string)
}

// NewFileStore creates the profile directory if needed.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		dir, err := common.GetConfigDir()
		if err != nil {
			return nil, err
		}
		cfg.Dir = filepath.Join(dir, common.ProfilesDirName)
	}
	if cfg.Name == "" {
		cfg.Name = common.AppName
	}
	if err := common.EnsureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("failed to create profiles directory: %w", err)
	}
	s := &FileStore{
		cfg:      cfg,
		managers: make(map[string]*Manager),
	}
	s.cfg.Manager.EgressRegion = s.EgressRegion
	s.cfg.Manager.OnUnexpectedExit = s.unexpectedExit
	return s, nil
}

// Dir returns the profile directory.
func (s *FileStore) Dir() string {
	return s.cfg.Dir
}

// Load returns the manager of the newest valid profile, or nil when no
// profile is installed.
func (s *FileStore) Load(ctx context.Context) (tunnel.ProviderManager, error) {
	profiles, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, nil
	}
	return s.managerFor(profiles[0]), nil
}

// Install validates the template configuration, copies it into the
// profile directory and saves a new profile.
func (s *FileStore) Install(ctx context.Context) (tunnel.ProviderManager, error) {
	if s.cfg.Template == "" {
		return nil, fmt.Errorf("%w: no tunnel configuration template set", ErrInvalidConfig)
	}
	if err := validateConfigFile(s.cfg.Template); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	profile := &Profile{
		ID:                common.GenerateID(),
		Name:              s.cfg.Name,
		Created:           time.Now(),
		SplitTunnelRoutes: s.cfg.Routes,
	}
	profile.ConfigPath = filepath.Join(s.cfg.Dir, profile.ID+configExt)

	if err := copyFile(s.cfg.Template, profile.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to copy config file: %w", err)
	}
	if err := s.save(profile); err != nil {
		_ = os.Remove(profile.ConfigPath)
		return nil, err
	}

	common.LogInfo("Installed VPN profile %s", profile.ID)
	return s.managerFor(profile), nil
}

// RemoveAll stops and removes every installed profile. It returns one
// error per profile that could not be removed.
func (s *FileStore) RemoveAll(ctx context.Context) []error {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return []error{fmt.Errorf("failed to read profiles directory: %w", err)}
	}

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != profileExt {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), profileExt)
		if err := s.remove(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (s *FileStore) remove(ctx context.Context, id string) error {
	s.mu.Lock()
	m := s.managers[id]
	delete(s.managers, id)
	s.mu.Unlock()

	if m != nil {
		if m.ConnectionStatus().Active() {
			if err := m.StopTunnel(ctx); err != nil {
				common.LogWarn("Failed to stop tunnel of removed profile %s: %v", id, err)
			}
		}
		m.Close()
	}

	profilePath := filepath.Join(s.cfg.Dir, id+profileExt)
	if err := os.Remove(profilePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove profile %s: %w", id, err)
	}
	if err := os.Remove(filepath.Join(s.cfg.Dir, id+configExt)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove config of profile %s: %w", id, err)
	}
	return nil
}

// Profiles returns the valid installed profiles, newest first.
func (s *FileStore) Profiles() ([]*Profile, error) {
	return s.list()
}

// OnHomepages routes homepage announcements of every loaded manager, now
// and in the future, to fn.
func (s *FileStore) OnHomepages(fn func(urls []string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHomepages = fn
	for _, m := range s.managers {
		m.OnHomepages(fn)
	}
}

// SetEgressRegion sets the exit region requested by tunnels started from
// now on. An empty code lets the server choose.
func (s *FileStore) SetEgressRegion(code string) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.region = code
}

// EgressRegion returns the requested exit region code.
func (s *FileStore) EgressRegion() string {
	s.hooksMu.RLock()
	defer s.hooksMu.RUnlock()
	return s.region
}

// OnUnexpectedExit sets the handler called when the process of a
// connected tunnel dies without being stopped.
func (s *FileStore) OnUnexpectedExit(fn func(id string)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onExit = fn
}

func (s *FileStore) unexpectedExit(id string) {
	s.hooksMu.RLock()
	fn := s.onExit
	s.hooksMu.RUnlock()
	common.LogWarn("VPN: Tunnel process of %s exited unexpectedly", id)
	if fn != nil {
		fn(id)
	}
}

// Provider returns the loaded manager with the given profile ID.
func (s *FileStore) Provider(id string) (Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.managers[id]
	if !ok {
		return nil, false
	}
	return m, true
}

// StopAll stops every running tunnel. Persisted intent is not touched, so
// the next launch resumes the previous state.
func (s *FileStore) StopAll(ctx context.Context) {
	s.mu.Lock()
	managers := make([]*Manager, 0, len(s.managers))
	for _, m := range s.managers {
		managers = append(managers, m)
	}
	s.mu.Unlock()

	for _, m := range managers {
		if !m.ConnectionStatus().Active() {
			continue
		}
		if err := m.StopTunnel(ctx); err != nil {
			common.LogWarn("Failed to stop tunnel %s: %v", m.ID(), err)
		}
	}
}

// Close stops the notifier goroutines of every loaded manager.
func (s *FileStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.managers {
		m.Close()
		delete(s.managers, id)
	}
}

func (s *FileStore) list() ([]*Profile, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	var profiles []*Profile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != profileExt {
			continue
		}
		path := filepath.Join(s.cfg.Dir, entry.Name())
		profile, err := readProfile(path)
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, fmt.Errorf("%w: %s", common.ErrPermissionDenied, path)
			}
			common.LogWarn("Skipping invalid profile %s: %v", path, err)
			continue
		}
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Created.After(profiles[j].Created)
	})
	return profiles, nil
}

func (s *FileStore) save(p *Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to serialize profile: %w", err)
	}
	path := filepath.Join(s.cfg.Dir, p.ID+profileExt)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	return nil
}

func (s *FileStore) managerFor(p *Profile) *Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.managers[p.ID]; ok {
		return m
	}
	m := NewManager(p, s.cfg.Manager)
	if s.onHomepages != nil {
		m.OnHomepages(s.onHomepages)
	}
	s.managers[p.ID] = m
	return m
}

func readProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !common.FileExists(p.ConfigPath) {
		return nil, fmt.Errorf("%w: config %s is missing", common.ErrInvalidProfile, p.ConfigPath)
	}
	return &p, nil
}

// validateConfigFile checks if the given file is a valid OpenVPN configuration.
func validateConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: file not found: %w", ErrInvalidConfig, err)
	}
	if info.IsDir() {
		return ErrInvalidConfig
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ovpn" && ext != ".conf" {
		return fmt.Errorf("%w: expected .ovpn or .conf extension", ErrInvalidConfig)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	content := string(data)
	for _, directive := range []string{"remote", "client"} {
		if strings.Contains(content, directive) {
			return nil
		}
	}
	return fmt.Errorf("%w: missing required OpenVPN directives", ErrInvalidConfig)
}

// copyFile copies a file from src to dst with secure permissions.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read source file: %w", err)
	}
	if err := os.WriteFile(dst, data, 0600); err != nil {
		return fmt.Errorf("failed to write destination file: %w", err)
	}
	return nil
}
