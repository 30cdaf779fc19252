package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// dueLayouts are accepted in addition to RFC3339 and +duration.
var dueLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

func (r *REPL) readInput() (string, error) {
	line, err := r.rl.Readline()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(line), nil
}

func parseCommand(input string) (bool, string, string) {
	if !strings.HasPrefix(input, "/") {
		return false, "", ""
	}

	parts := strings.SplitN(input, " ", 2)
	command := strings.ToLower(parts[0])

	args := ""
	if len(parts) > 1 {
		args = strings.TrimSpace(parts[1])
	}

	return true, command, args
}

// splitFields splits "a | b | c" into trimmed parts.
func splitFields(args string) []string {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	parts := strings.Split(args, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseDue understands "+30m"/"+2h" relative to now, RFC3339, and local
// wall-clock layouts interpreted in loc.
func parseDue(s string, now time.Time, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("due time is required")
	}

	if strings.HasPrefix(s, "+") {
		d, err := time.ParseDuration(s[1:])
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("invalid relative due time %q (try +30m or +2h)", s)
		}
		return now.Add(d).UTC(), nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due time %q (use RFC3339, 2006-01-02 15:04 or +30m)", s)
}

func setupReadline(prompt, historyFile string) (*readline.Instance, error) {
	if historyFile != "" {
		if err := os.MkdirAll(filepath.Dir(historyFile), 0o755); err != nil {
			historyFile = ""
		}
	}

	return readline.NewEx(&readline.Config{
		Prompt:              prompt,
		HistoryFile:         historyFile,
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
		AutoComplete:        completer,
	})
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("/help"),
	readline.PcItem("/list",
		readline.PcItem("pending"),
		readline.PcItem("completed"),
		readline.PcItem("missed"),
	),
	readline.PcItem("/find"),
	readline.PcItem("/show"),
	readline.PcItem("/add"),
	readline.PcItem("/due"),
	readline.PcItem("/channel"),
	readline.PcItem("/contact"),
	readline.PcItem("/done"),
	readline.PcItem("/status"),
	readline.PcItem("/notify"),
	readline.PcItem("/schedule"),
	readline.PcItem("/unschedule"),
	readline.PcItem("/delete"),
	readline.PcItem("/sweep",
		readline.PcItem("missed"),
		readline.PcItem("completed"),
		readline.PcItem("dispatch"),
	),
	readline.PcItem("/inbox"),
	readline.PcItem("/owner"),
	readline.PcItem("/quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt)
}
