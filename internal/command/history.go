package command

import (
	"errors"
	"os"
	"strings"

	"github.com/joeycumines/go-jsbridge/internal/config"
)

// loadHistory reads one entry per line. Multi-line entries are stored with
// their newlines escaped.
func loadHistory(filename string) []string {
	if filename == "" {
		return nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil
	}
	var history []string
	for line := range strings.SplitSeq(string(content), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			history = append(history, unescapeHistory(line))
		}
	}
	return history
}

// saveHistory appends added to the history file, keeping the last size
// entries. The file is re-read under lock, so sessions sharing it keep each
// other's entries.
func saveHistory(filename string, added []string, size int) (err error) {
	if filename == "" || len(added) == 0 {
		return nil
	}
	unlock, err := config.LockFile(filename)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, unlock()) }()

	history := append(loadHistory(filename), added...)
	if size > 0 && len(history) > size {
		history = history[len(history)-size:]
	}
	var b strings.Builder
	for _, entry := range history {
		b.WriteString(escapeHistory(entry))
		b.WriteByte('\n')
	}
	return config.WriteFileAtomic(filename, []byte(b.String()), 0o600)
}

var (
	historyEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	historyUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n")
)

func escapeHistory(s string) string { return historyEscaper.Replace(s) }

func unescapeHistory(s string) string { return historyUnescaper.Replace(s) }
