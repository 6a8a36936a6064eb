// Package backup writes point-in-time snapshots of the local store to disk
// and restores them. Files are msgpack, optionally sealed with a passphrase.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"synapse/models"

	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

const (
	fileExt       = ".msgpack"
	sealedExt     = ".sealed"
	defaultKeep   = 10
	filePrefix    = "backup-"
	fileTimestamp = "20060102T150405.000Z"
)

// Source is the store surface a backup needs.
type Source interface {
	TakeSnapshot(ctx context.Context, userID string) (*models.Snapshot, error)
	RestoreSnapshot(ctx context.Context, snap *models.Snapshot, userID string) (int, error)
}

type Options struct {
	Dir        string
	UserID     string
	Keep       int    // newest files retained; 0 means 10
	Passphrase string // seals backups when set
}

// Manager takes, lists, prunes, and restores backups for one user.
type Manager struct {
	src        Source
	dir        string
	userID     string
	keep       int
	passphrase []byte
}

func NewManager(src Source, opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, serr.New("backup directory is required")
	}
	if opts.Keep <= 0 {
		opts.Keep = defaultKeep
	}
	if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
		return nil, serr.Wrap(err, "failed to create backup directory")
	}
	return &Manager{
		src:        src,
		dir:        opts.Dir,
		userID:     opts.UserID,
		keep:       opts.Keep,
		passphrase: []byte(opts.Passphrase),
	}, nil
}

// Dir is where backups are written.
func (m *Manager) Dir() string { return m.dir }

// Info describes one backup file.
type Info struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Sealed  bool      `json:"sealed"`
	TakenAt time.Time `json:"taken_at"`
}

// Take snapshots the store and writes a new backup file, then prunes old
// ones. The file is written under a temp name and renamed into place.
func (m *Manager) Take(ctx context.Context) (string, error) {
	snap, err := m.src.TakeSnapshot(ctx, m.userID)
	if err != nil {
		return "", serr.Wrap(err, "failed to snapshot store")
	}
	data, err := models.EncodeSnapshotMsgPack(snap)
	if err != nil {
		return "", err
	}

	name := filePrefix + time.UnixMilli(snap.TakenAt).UTC().Format(fileTimestamp) + fileExt
	if len(m.passphrase) > 0 {
		if data, err = Seal(data, m.passphrase); err != nil {
			return "", err
		}
		name += sealedExt
	}

	path := filepath.Join(m.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", serr.Wrap(err, "failed to write backup")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", serr.Wrap(err, "failed to move backup into place")
	}

	logger.Info("Backup written", "path", path, "rows", snap.Len(), "bytes", len(data))

	if err := m.prune(); err != nil {
		logger.LogErr(err, "failed to prune old backups")
	}
	return path, nil
}

// Load reads and decodes a backup file.
func (m *Manager) Load(path string) (*models.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read backup")
	}
	if IsSealed(data) {
		if len(m.passphrase) == 0 {
			return nil, serr.New("backup is sealed and no passphrase is configured")
		}
		if data, err = Unseal(data, m.passphrase); err != nil {
			return nil, err
		}
	}
	return models.DecodeSnapshotMsgPack(data)
}

// Restore upserts the rows of a backup file into the store.
func (m *Manager) Restore(ctx context.Context, path string) (int, error) {
	snap, err := m.Load(path)
	if err != nil {
		return 0, err
	}
	if snap.UserID != "" && m.userID != "" && snap.UserID != m.userID {
		return 0, serr.New(fmt.Sprintf("backup belongs to user %q", snap.UserID))
	}
	n, err := m.src.RestoreSnapshot(ctx, snap, m.userID)
	if err != nil {
		return 0, serr.Wrap(err, "failed to restore backup")
	}
	logger.Info("Backup restored", "path", path, "rows", n)
	return n, nil
}

// List returns the backup files, newest first.
func (m *Manager) List() ([]Info, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, serr.Wrap(err, "failed to read backup directory")
	}

	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		sealed := strings.HasSuffix(name, fileExt+sealedExt)
		if !sealed && !strings.HasSuffix(name, fileExt) {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), sealedExt), fileExt)
		takenAt, err := time.Parse(fileTimestamp, stamp)
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(m.dir, name), Size: fi.Size(), Sealed: sealed, TakenAt: takenAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	return out, nil
}

// Latest returns the newest backup, or false if there is none.
func (m *Manager) Latest() (Info, bool, error) {
	list, err := m.List()
	if err != nil || len(list) == 0 {
		return Info{}, false, err
	}
	return list[0], true, nil
}

func (m *Manager) prune() error {
	list, err := m.List()
	if err != nil {
		return err
	}
	for _, info := range list[min(m.keep, len(list)):] {
		if err := os.Remove(info.Path); err != nil {
			return serr.Wrap(err, "failed to remove old backup")
		}
		logger.Debug("Removed old backup", "path", info.Path)
	}
	return nil
}
