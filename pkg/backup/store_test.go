package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ghostsweep/ghostsweep/pkg/engine"
	"github.com/ghostsweep/ghostsweep/pkg/sysmgmt"
)

type exportRecorder struct {
	dirs []string
	fail bool
}

func (e *exportRecorder) Enumerate(ctx context.Context) ([]sysmgmt.DriverPackage, error) {
	return nil, nil
}

func (e *exportRecorder) Delete(ctx context.Context, publishedName string) sysmgmt.Result {
	return sysmgmt.Result{}
}

func (e *exportRecorder) Export(ctx context.Context, dir string) sysmgmt.Result {
	if e.fail {
		return sysmgmt.Result{ExitCode: 1, Output: "export failed"}
	}
	e.dirs = append(e.dirs, dir)
	return sysmgmt.Result{}
}

func (e *exportRecorder) Import(ctx context.Context, dir string) sysmgmt.Result {
	return sysmgmt.Result{}
}

func sampleSnapshot() *engine.SystemSnapshot {
	return &engine.SystemSnapshot{
		CapturedAt: time.Now().UTC(),
		Hostname:   "web01",
		Platform:   "windows",
		Devices: []sysmgmt.Device{
			{InstanceID: "PCI\\VEN_15AD&DEV_0405", FriendlyName: "VMware SVGA 3D"},
		},
		Drivers: []sysmgmt.DriverPackage{
			{PublishedName: "oem7.inf", OriginalName: "vmxnet3.inf", Provider: "VMware, Inc."},
		},
		Interfaces: []sysmgmt.NetInterface{
			{Name: "Ethernet0", MAC: "00:50:56:aa:bb:cc", Addresses: []string{"10.0.0.5/24"}, Gateway: "10.0.0.1", DNS: []string{"10.0.0.2"}},
		},
		Software: []sysmgmt.InstalledPackage{{Name: "VMware Tools", Version: "12.1.5"}},
		Disks:    []sysmgmt.Disk{{Number: 0, Online: true}},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	drivers := &exportRecorder{}
	store := NewStore(t.TempDir(), drivers, zerolog.Nop())

	id, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	require.Contains(t, id, "web01-")
	require.Len(t, drivers.dirs, 1)

	loaded, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "web01", loaded.Metadata.Hostname)
	require.True(t, loaded.Metadata.DriverExport)
	require.Equal(t, drivers.dirs[0], loaded.DriverDir)

	require.Len(t, loaded.Snapshot.Devices, 1)
	require.Equal(t, "VMware SVGA 3D", loaded.Snapshot.Devices[0].FriendlyName)
	require.Len(t, loaded.Snapshot.Interfaces, 1)
	require.Equal(t, []string{"10.0.0.5/24"}, loaded.Snapshot.Interfaces[0].Addresses)
	require.Equal(t, "10.0.0.1", loaded.Snapshot.Interfaces[0].Gateway)
}

func TestRoundTripKeepsSnapshotHeader(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zerolog.Nop())

	snap := sampleSnapshot()
	snap.Partial = true
	snap.PartialReasons = []string{"drivers: pnputil not found"}

	id, err := store.Save(context.Background(), snap)
	require.NoError(t, err)

	loaded, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	require.True(t, loaded.Snapshot.Partial, "Partial flag lost on round trip")
	require.Equal(t, snap.PartialReasons, loaded.Snapshot.PartialReasons)
	require.True(t, loaded.Snapshot.CapturedAt.Equal(snap.CapturedAt),
		"capture time %v replaced by %v", snap.CapturedAt, loaded.Snapshot.CapturedAt)
}

func TestSaveNeverOverwrites(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zerolog.Nop())
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	id1, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	id2, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Equal(t, id1+"-2", id2)
}

type fetchRecorder struct {
	dir  string
	fail bool
}

func (f *fetchRecorder) FetchNetworkConfig(ctx context.Context, localDir string) error {
	if f.fail {
		return errors.New("connection lost")
	}
	f.dir = localDir
	return os.WriteFile(filepath.Join(localDir, "resolv.conf"), []byte("nameserver 10.0.0.2\n"), 0o644)
}

func TestSaveFetchesNetworkConfig(t *testing.T) {
	fetcher := &fetchRecorder{}
	store := NewStore(t.TempDir(), nil, zerolog.Nop()).WithConfigFetcher(fetcher)

	id, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(fetcher.dir, "resolv.conf"))

	loaded, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	require.True(t, loaded.Metadata.NetworkConfig)
}

func TestSaveFailsWhenFetchFails(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zerolog.Nop()).WithConfigFetcher(&fetchRecorder{fail: true})
	_, err := store.Save(context.Background(), sampleSnapshot())
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetching network config")
}

func TestSaveFailsWhenDriverExportFails(t *testing.T) {
	store := NewStore(t.TempDir(), &exportRecorder{fail: true}, zerolog.Nop())
	_, err := store.Save(context.Background(), sampleSnapshot())
	require.Error(t, err)
	require.Contains(t, err.Error(), "exporting driver store")
}

func TestLatestPicksNewest(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zerolog.Nop())

	base := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	_, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(time.Hour) }
	newest, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	latest, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, newest, latest.Metadata.ID)

	metas, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	require.Equal(t, newest, metas[0].ID)
}

func TestLoadMissingBackup(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zerolog.Nop())
	_, err := store.Load(context.Background(), "web01-20260830-120000")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestEmptyStore(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zerolog.Nop())
	_, err := store.Latest(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorruptBackup(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil, zerolog.Nop())

	id, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, id, "devices.yaml"), []byte("{:::"), 0o644))
	_, err = store.Load(context.Background(), id)
	require.True(t, errors.Is(err, ErrCorrupt), "got %v", err)
}

func TestListSkipsForeignDirectories(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil, zerolog.Nop())
	require.NoError(t, os.Mkdir(filepath.Join(root, "not-a-backup"), 0o755))

	_, err := store.Save(context.Background(), sampleSnapshot())
	require.NoError(t, err)

	metas, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 1)
}
