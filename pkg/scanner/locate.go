package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	reportSuffix = ".report.jsonl"
	hitlogSuffix = ".hitlog.jsonl"
)

// outputFiles are the files a finished scan left behind.
type outputFiles struct {
	Report string
	HitLog string
}

// locateOutputs searches dirs in order for the report written under
// prefix. The hit log is taken from the directory holding the report.
func locateOutputs(dirs []string, prefix string) outputFiles {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
				names = append(names, e.Name())
			}
		}

		sort.Strings(names)

		var found outputFiles

		for _, name := range names {
			switch {
			case found.Report == "" && strings.HasSuffix(name, reportSuffix):
				found.Report = filepath.Join(dir, name)
			case found.HitLog == "" && strings.HasSuffix(name, hitlogSuffix):
				found.HitLog = filepath.Join(dir, name)
			}
		}

		if found.Report != "" {
			return found
		}
	}

	return outputFiles{}
}
