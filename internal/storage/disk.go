package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL mode.
var sqliteSidecars = []string{"-wal", "-shm", "-journal"}

// Usage is the on-disk footprint of the knowledge base files.
type Usage struct {
	Total  int64            `json:"total"`
	ByPath map[string]int64 `json:"by_path"`
}

// DiskUsage sizes each path: directories (the lexical index) are walked, files are stat'ed
// together with any SQLite sidecar files. Missing paths count as zero.
func DiskUsage(paths ...string) (Usage, error) {
	u := Usage{ByPath: make(map[string]int64, len(paths))}
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return Usage{}, err
		}
		for _, suffix := range sqliteSidecars {
			side, err := pathSize(p + suffix)
			if err != nil {
				return Usage{}, err
			}
			n += side
		}
		u.ByPath[p] = n
		u.Total += n
	}
	return u, nil
}

// DiskUsageBytes returns the total of DiskUsage.
func DiskUsageBytes(paths ...string) (int64, error) {
	u, err := DiskUsage(paths...)
	return u.Total, err
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
