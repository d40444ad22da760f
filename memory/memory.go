// Package memory reports the size of the system or cgroup page cache.
package memory

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var errNotFound = errors.New("pattern not found")

// Sources lists the files read by CachedKB, in order of preference
type Sources struct {
	CgroupV2 string
	CgroupV1 string
	Meminfo  string
}

// DefaultSources are the paths of the running system
var DefaultSources = Sources{
	CgroupV2: "/sys/fs/cgroup/memory.stat",
	CgroupV1: "/sys/fs/cgroup/memory/memory.stat",
	Meminfo:  "/proc/meminfo",
}

func getValue(filePath string, name string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) < 2 || parts[0] != name {
			continue
		}
		value, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			slog.Error("Couldn't parse value as int", "file", filePath, "name", name, "error", err)
			return 0, err
		}
		return value, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("%s in %s: %w", name, filePath, errNotFound)
}

// CachedKB returns the page cache size in KB. The cgroup v2 and v1 stats
// are checked first so containers report their own usage.
func (s Sources) CachedKB() (int64, error) {
	// cgroup stats are in bytes
	if fileMem, err := getValue(s.CgroupV2, "file"); err == nil {
		return fileMem / 1024, nil
	}
	if cacheMem, err := getValue(s.CgroupV1, "cache"); err == nil {
		return cacheMem / 1024, nil
	}
	return getValue(s.Meminfo, "Cached:")
}

// GetCachedMemory returns the page cache size of the running system in KB
func GetCachedMemory() (int64, error) {
	return DefaultSources.CachedKB()
}
