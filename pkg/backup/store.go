// Package backup persists pre-cleanup system snapshots to disk and
// loads them back for restore. Each backup is a timestamped directory
// holding YAML sections plus an exported copy of the driver store.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

var (
	// ErrNotFound is returned when no backup matches the requested ID,
	// or the store is empty.
	ErrNotFound = errors.New("backup not found")

	// ErrCorrupt is returned when a backup directory exists but its
	// contents cannot be decoded.
	ErrCorrupt = errors.New("backup is corrupt")
)

// Section file names inside a backup directory.
const (
	metadataFile = "metadata.yaml"
	devicesFile  = "devices.yaml"
	driversFile  = "drivers.yaml"
	networkFile  = "network.yaml"
	softwareFile = "software.yaml"
	disksFile    = "disks.yaml"

	// driverStoreDir holds the exported driver packages.
	driverStoreDir = "driverstore"

	// netConfigDir holds raw network configuration files fetched from
	// the target, for manual follow-up after a restore.
	netConfigDir = "netconfig"
)

// ConfigFetcher copies a target's network configuration files into a
// local directory. The SSH transport implements it for remote guests.
type ConfigFetcher interface {
	FetchNetworkConfig(ctx context.Context, localDir string) error
}

// Metadata describes one stored backup.
type Metadata struct {
	// ID is the backup directory name.
	ID string `yaml:"id"`

	// CreatedAt is the backup creation time.
	CreatedAt time.Time `yaml:"created_at"`

	// Hostname and Platform identify the source system.
	Hostname string `yaml:"hostname"`
	Platform string `yaml:"platform"`

	// CapturedAt is when the snapshot was taken, as opposed to when
	// the backup was written.
	CapturedAt time.Time `yaml:"captured_at"`

	// Partial carries the snapshot's degraded-capture marker so a
	// restored snapshot reports the same gaps the live probe did.
	Partial        bool     `yaml:"partial,omitempty"`
	PartialReasons []string `yaml:"partial_reasons,omitempty"`

	// DriverExport indicates the driver store was exported alongside
	// the YAML sections.
	DriverExport bool `yaml:"driver_export"`

	// NetworkConfig indicates raw network configuration files were
	// fetched into the backup.
	NetworkConfig bool `yaml:"network_config"`
}

// Backup is a fully loaded backup.
type Backup struct {
	Metadata Metadata

	// Snapshot is the system state at backup time.
	Snapshot *engine.SystemSnapshot

	// DriverDir is the absolute path of the exported driver packages,
	// empty when the backup carries none.
	DriverDir string
}

// Store reads and writes backups under a root directory.
type Store struct {
	root    string
	drivers sysmgmt.DriverStore
	fetcher ConfigFetcher
	logger  zerolog.Logger

	// now is replaceable for tests.
	now func() time.Time
}

// NewStore creates a backup store rooted at root. drivers may be nil
// when driver export is unavailable, for example on remote probes.
func NewStore(root string, drivers sysmgmt.DriverStore, logger zerolog.Logger) *Store {
	return &Store{
		root:    root,
		drivers: drivers,
		logger:  logger.With().Str("component", "backup").Logger(),
		now:     time.Now,
	}
}

// WithConfigFetcher makes Save fetch the target's network
// configuration files into each backup.
func (s *Store) WithConfigFetcher(f ConfigFetcher) *Store {
	s.fetcher = f
	return s
}

// Save writes the snapshot as a new backup and returns its ID. An
// existing directory is never overwritten; collisions get a numeric
// suffix. Failure to export the driver store fails the whole save,
// because driver deletion without an export is unrecoverable.
func (s *Store) Save(ctx context.Context, snap *engine.SystemSnapshot) (string, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", fmt.Errorf("creating backup root: %w", err)
	}

	id, dir, err := s.allocate(snap.Hostname)
	if err != nil {
		return "", err
	}

	meta := Metadata{
		ID:             id,
		CreatedAt:      s.now().UTC(),
		Hostname:       snap.Hostname,
		Platform:       snap.Platform,
		CapturedAt:     snap.CapturedAt,
		Partial:        snap.Partial,
		PartialReasons: snap.PartialReasons,
	}

	sections := map[string]any{
		devicesFile:  snap.Devices,
		driversFile:  snap.Drivers,
		networkFile:  snap.Interfaces,
		softwareFile: snap.Software,
		disksFile:    snap.Disks,
	}
	for name, v := range sections {
		if err := writeYAML(filepath.Join(dir, name), v); err != nil {
			return "", err
		}
	}

	if s.drivers != nil && len(snap.Drivers) > 0 {
		exportDir := filepath.Join(dir, driverStoreDir)
		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			return "", fmt.Errorf("creating driver export dir: %w", err)
		}
		if res := s.drivers.Export(ctx, exportDir); !res.Ok() {
			return "", fmt.Errorf("exporting driver store: %s", res.Detail())
		}
		meta.DriverExport = true
	}

	if s.fetcher != nil {
		fetchDir := filepath.Join(dir, netConfigDir)
		if err := os.MkdirAll(fetchDir, 0o755); err != nil {
			return "", fmt.Errorf("creating network config dir: %w", err)
		}
		if err := s.fetcher.FetchNetworkConfig(ctx, fetchDir); err != nil {
			return "", fmt.Errorf("fetching network config: %w", err)
		}
		meta.NetworkConfig = true
	}

	if err := writeYAML(filepath.Join(dir, metadataFile), meta); err != nil {
		return "", err
	}

	s.logger.Info().Str("backup_id", id).Str("dir", dir).Bool("driver_export", meta.DriverExport).Msg("backup written")
	return id, nil
}

// allocate picks a collision-free backup directory and creates it.
func (s *Store) allocate(hostname string) (string, string, error) {
	base := fmt.Sprintf("%s-%s", hostname, s.now().UTC().Format("20060102-150405"))
	id := base
	for n := 2; ; n++ {
		dir := filepath.Join(s.root, id)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return id, dir, nil
		}
		if !os.IsExist(err) {
			return "", "", fmt.Errorf("creating backup dir: %w", err)
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// List returns the metadata of all stored backups, newest first.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading backup root: %w", err)
	}

	var metas []Metadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var meta Metadata
		if err := readYAML(filepath.Join(s.root, entry.Name(), metadataFile), &meta); err != nil {
			s.logger.Warn().Err(err).Str("dir", entry.Name()).Msg("skipping unreadable backup")
			continue
		}
		metas = append(metas, meta)
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Latest loads the most recent backup.
func (s *Store) Latest(ctx context.Context) (*Backup, error) {
	metas, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, ErrNotFound
	}
	return s.Load(ctx, metas[0].ID)
}

// Load reads one backup by ID.
func (s *Store) Load(ctx context.Context, id string) (*Backup, error) {
	dir := filepath.Join(s.root, id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	b := &Backup{Snapshot: &engine.SystemSnapshot{}}
	if err := readYAML(filepath.Join(dir, metadataFile), &b.Metadata); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
	}
	b.Snapshot.Hostname = b.Metadata.Hostname
	b.Snapshot.Platform = b.Metadata.Platform
	b.Snapshot.CapturedAt = b.Metadata.CapturedAt
	b.Snapshot.Partial = b.Metadata.Partial
	b.Snapshot.PartialReasons = b.Metadata.PartialReasons

	sections := map[string]any{
		devicesFile:  &b.Snapshot.Devices,
		driversFile:  &b.Snapshot.Drivers,
		networkFile:  &b.Snapshot.Interfaces,
		softwareFile: &b.Snapshot.Software,
		disksFile:    &b.Snapshot.Disks,
	}
	for name, v := range sections {
		if err := readYAML(filepath.Join(dir, name), v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
		}
	}

	if b.Metadata.DriverExport {
		b.DriverDir = filepath.Join(dir, driverStoreDir)
		if _, err := os.Stat(b.DriverDir); err != nil {
			return nil, fmt.Errorf("%w: %s: driver export missing", ErrCorrupt, id)
		}
	}
	return b, nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}
