package scanner

import (
	"regexp"
	"strings"
)

var (
	ansiPattern  = regexp.MustCompile(`[\x{001b}\x{009b}][\[()#;?]*(?:[0-9]{1,4}(?:;[0-9]{0,4})*)?[0-9A-ORZcf-nqry=><]`)
	emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}\x{2600}-\x{26FF}\x{2700}-\x{27BF}]`)
)

// ParsePluginList extracts plugin names ("module.Class") from the
// scanner's plugin listing output.
func ParsePluginList(output string, kind PluginKind) []string {
	prefix := string(kind) + ":"
	items := make([]string, 0)

	for line := range strings.Lines(output) {
		line = strings.TrimSpace(ansiPattern.ReplaceAllString(line, ""))

		rest, ok := strings.CutPrefix(line, prefix)
		if !ok {
			continue
		}

		rest = strings.TrimSpace(emojiPattern.ReplaceAllString(rest, ""))
		if !strings.Contains(rest, ".") {
			continue
		}

		if fields := strings.Fields(rest); len(fields) > 0 {
			items = append(items, fields[0])
		}
	}

	return items
}
