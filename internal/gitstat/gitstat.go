// Package gitstat reports point-in-time uncommitted-change counts for the
// working tree coop's own process is running in, the same best-effort way
// the teacher surfaces on its info/status calls.
package gitstat

import (
	"os/exec"
	"strconv"
	"strings"
)

// Stats holds combined staged+unstaged git diff --numstat totals.
type Stats struct {
	FilesChanged int
	LinesAdded   int64
	LinesRemoved int64
}

// Collect runs git diff --numstat against the current working directory.
// It returns nil when git isn't available, the cwd isn't a work tree, or
// there are no uncommitted changes.
func Collect() *Stats {
	unstaged, err := exec.Command("git", "diff", "--numstat").Output()
	if err != nil {
		return nil
	}
	staged, err := exec.Command("git", "diff", "--cached", "--numstat").Output()
	if err != nil {
		return nil
	}

	files := make(map[string]bool)
	var added, removed int64

	for _, output := range [][]byte{unstaged, staged} {
		for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if len(parts) < 3 {
				continue
			}
			// Binary files report "-" for add/remove counts.
			if parts[0] == "-" || parts[1] == "-" {
				files[parts[2]] = true
				continue
			}
			a, _ := strconv.ParseInt(parts[0], 10, 64)
			r, _ := strconv.ParseInt(parts[1], 10, 64)
			added += a
			removed += r
			files[parts[2]] = true
		}
	}

	if len(files) == 0 && added == 0 && removed == 0 {
		return nil
	}
	return &Stats{FilesChanged: len(files), LinesAdded: added, LinesRemoved: removed}
}
