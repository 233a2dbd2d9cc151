// internal/logging/rotate.go
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// RotatingFile is a zapcore.WriteSyncer writing to <prefix>-YYYY-MM-DD.log
// in dir. A new file starts at each local date change and whenever the
// next write would exceed the size limit; size rollovers within one day
// are named <prefix>-YYYY-MM-DD.N.log. The directory is created on first
// write.
type RotatingFile struct {
	dir      string
	prefix   string
	maxSize  int64
	maxFiles int
	maxAge   time.Duration
	pattern  *regexp.Regexp
	now      func() time.Time

	mu    sync.Mutex
	file  *os.File
	day   string
	index int
	size  int64
}

// NewRotatingFile creates a rotating writer. No file is opened until the
// first write.
func NewRotatingFile(dir string, cfg FileConfig) *RotatingFile {
	return &RotatingFile{
		dir:      dir,
		prefix:   cfg.Prefix,
		maxSize:  int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxFiles: cfg.MaxFiles,
		maxAge:   cfg.MaxAge.Duration(),
		pattern:  filePattern(cfg.Prefix),
		now:      time.Now,
	}
}

func filePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(\d{4}-\d{2}-\d{2})(?:\.(\d+))?\.log$`)
}

func fileName(prefix, day string, index int) string {
	if index == 0 {
		return fmt.Sprintf("%s-%s.log", prefix, day)
	}
	return fmt.Sprintf("%s-%s.%d.log", prefix, day, index)
}

// Write appends p to the current file, rotating first when needed.
func (r *RotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := r.now().Format(dateLayout)
	switch {
	case r.file == nil || day != r.day:
		if err := r.openDay(day); err != nil {
			return 0, err
		}
	case r.maxSize > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxSize:
		if err := r.openIndex(r.index + 1); err != nil {
			return 0, err
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

// Sync flushes the current file.
func (r *RotatingFile) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close closes the current file. A later Write reopens it.
func (r *RotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeFile()
}

// Path returns the file currently written to, or "" before the first write.
func (r *RotatingFile) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Sweep applies the retention rules now.
func (r *RotatingFile) Sweep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prune()
}

func (r *RotatingFile) closeFile() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// openDay opens the newest file of day, continuing it if it has room.
func (r *RotatingFile) openDay(day string) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", r.dir, err)
	}

	r.day = day
	index := 0
	files, err := listLogFiles(r.dir, r.pattern)
	if err == nil {
		for _, f := range files {
			if f.day == day && f.index > index {
				index = f.index
			}
		}
	}
	return r.openIndex(index)
}

func (r *RotatingFile) openIndex(index int) error {
	if err := r.closeFile(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	for {
		path := filepath.Join(r.dir, fileName(r.prefix, r.day, index))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return fmt.Errorf("failed to stat log file %s: %w", path, err)
		}
		if r.maxSize > 0 && info.Size() >= r.maxSize {
			f.Close()
			index++
			continue
		}

		r.file = f
		r.index = index
		r.size = info.Size()
		break
	}

	// Retention failures must not block logging
	_ = r.prune()
	return nil
}

// prune deletes files older than maxAge, then the oldest files beyond
// maxFiles. The current file is never deleted.
func (r *RotatingFile) prune() error {
	if r.maxFiles <= 0 && r.maxAge <= 0 {
		return nil
	}
	files, err := listLogFiles(r.dir, r.pattern)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	current := ""
	if r.file != nil {
		current = filepath.Base(r.file.Name())
	}

	var errs []error
	kept := make([]logFile, 0, len(files))
	cutoff := r.now().Add(-r.maxAge)
	for _, f := range files {
		if r.maxAge > 0 && f.name != current && f.modTime.Before(cutoff) {
			if err := os.Remove(filepath.Join(r.dir, f.name)); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			continue
		}
		kept = append(kept, f)
	}

	if r.maxFiles > 0 {
		excess := len(kept) - r.maxFiles
		for _, f := range kept {
			if excess <= 0 {
				break
			}
			if f.name == current {
				continue
			}
			if err := os.Remove(filepath.Join(r.dir, f.name)); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
			excess--
		}
	}
	return errors.Join(errs...)
}

type logFile struct {
	name    string
	day     string
	index   int
	modTime time.Time
}

// listLogFiles returns the files in dir matching pattern, oldest first.
func listLogFiles(dir string, pattern *regexp.Regexp) ([]logFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []logFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		f := logFile{name: e.Name(), day: m[1]}
		if m[2] != "" {
			f.index, _ = strconv.Atoi(m[2])
		}
		if info, err := e.Info(); err == nil {
			f.modTime = info.ModTime()
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].day != files[j].day {
			return files[i].day < files[j].day
		}
		return files[i].index < files[j].index
	})
	return files, nil
}

// latestLogFile returns the newest file for prefix in dir, or "" if none.
func latestLogFile(dir, prefix string) (string, error) {
	files, err := listLogFiles(dir, filePattern(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return filepath.Join(dir, files[len(files)-1].name), nil
}
