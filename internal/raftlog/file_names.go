package raftlog

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const segmentFilePrefix = "raft.log."

// FileNames maps segment versions to file paths inside a log directory.
type FileNames struct {
	dir string
}

// NewFileNames returns the naming scheme rooted at dir.
func NewFileNames(dir string) FileNames {
	return FileNames{dir: dir}
}

// Dir returns the log directory.
func (f FileNames) Dir() string { return f.dir }

// Path returns the path of the segment file with the given version.
func (f FileNames) Path(version int64) string {
	return filepath.Join(f.dir, segmentFilePrefix+strconv.FormatInt(version, 10))
}

// Versions lists the segment versions present in the directory in ascending order.
// Files that do not follow the naming scheme are ignored.
func (f FileNames) Versions(fsys FileSystem) ([]int64, error) {
	names, err := fsys.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.dir, err)
	}
	versions := make([]int64, 0, len(names))
	for _, name := range names {
		if v, ok := parseVersion(name); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

func parseVersion(name string) (int64, bool) {
	suffix, ok := strings.CutPrefix(name, segmentFilePrefix)
	if !ok || suffix == "" {
		return 0, false
	}
	// Reject signs and leading zeros so a version maps to exactly one name.
	if suffix[0] < '0' || suffix[0] > '9' || (len(suffix) > 1 && suffix[0] == '0') {
		return 0, false
	}
	v, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
