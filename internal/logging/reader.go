// internal/logging/reader.go
package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultRecentCount is used when a non-positive count is requested.
const DefaultRecentCount = 50

// Entry is one record read back from a log file.
type Entry struct {
	Timestamp  string                 `json:"timestamp,omitempty"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	SessionID  string                 `json:"sessionId,omitempty"`
	PID        int                    `json:"pid,omitempty"`
	Stack      string                 `json:"stack,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// RecentEntries returns up to count records from the newest main log
// file, newest first. A missing directory or file yields no entries.
func (l *Logger) RecentEntries(count int) ([]Entry, error) {
	if l.sinks == nil || l.sinks.main == nil {
		return []Entry{}, nil
	}
	return ReadRecent(l.config.Dir, l.config.File.Prefix, count)
}

// ReadRecent reads up to count records from the newest <prefix>-*.log in
// dir, newest first. Lines that are not JSON objects are returned as info
// entries carrying the raw line.
func ReadRecent(dir, prefix string, count int) ([]Entry, error) {
	if count <= 0 {
		count = DefaultRecentCount
	}

	path, err := latestLogFile(dir, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	if path == "" {
		return []Entry{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	// Ring of the last count lines
	ring := make([]string, 0, count)
	next := 0
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) != "" {
			if len(ring) < count {
				ring = append(ring, line)
			} else {
				ring[next] = line
				next = (next + 1) % count
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	entries := make([]Entry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		entries = append(entries, parseEntry(ring[(next+i)%len(ring)]))
	}
	return entries, nil
}

func parseEntry(line string) Entry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil || raw == nil {
		return Entry{Level: LevelInfo, Message: line}
	}

	e := Entry{Level: LevelInfo}
	for k, v := range raw {
		switch k {
		case "timestamp":
			e.Timestamp, _ = v.(string)
		case "level":
			if s, ok := v.(string); ok && s != "" {
				e.Level = s
			}
		case "message":
			e.Message, _ = v.(string)
		case "sessionId":
			e.SessionID, _ = v.(string)
		case "pid":
			if n, ok := v.(float64); ok {
				e.PID = int(n)
			}
		case "stack":
			e.Stack, _ = v.(string)
		default:
			if e.Attributes == nil {
				e.Attributes = make(map[string]interface{})
			}
			e.Attributes[k] = v
		}
	}
	return e
}
