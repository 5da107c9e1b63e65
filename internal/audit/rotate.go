package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// rotateLoop checks file sizes on the configured interval. Rotation also
// runs inline via RotateIfNeeded for callers that want it on demand.
func (l *Logger) rotateLoop() {
	ticker := time.NewTicker(l.opts.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.RotateIfNeeded(); err != nil {
				l.log.Warn().Err(err).Msg("log rotation failed")
			}
		case <-l.stop:
			return
		}
	}
}

// RotateIfNeeded renames any active log file past the size cap to a
// timestamped archive and prunes archives older than the retention
// window. The append mutex is held throughout so no write lands between
// the stat and the rename.
func (l *Logger) RotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, f := range []struct{ file, base string }{
		{accessFile, "access"},
		{securityFile, "security"},
	} {
		active := filepath.Join(l.dir, f.file)
		info, err := os.Stat(active)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", f.file, err)
		}
		if info.Size() <= l.opts.MaxFileSize {
			continue
		}

		archived := filepath.Join(l.dir, fmt.Sprintf("%s-log-%d.jsonl", f.base, time.Now().UnixMilli()))
		if err := os.Rename(active, archived); err != nil {
			return fmt.Errorf("rotate %s: %w", f.file, err)
		}

		if err := l.pruneArchives(f.base); err != nil {
			return err
		}
	}
	return nil
}

// pruneArchives deletes "<base>-log-<unixms>.jsonl" files older than the
// retention window.
func (l *Logger) pruneArchives(base string) error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read log dir: %w", err)
	}

	cutoff := time.Now().Add(-l.opts.Retention).UnixMilli()
	prefix := base + "-log-"

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		stamp, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".jsonl"), 10, 64)
		if err != nil {
			continue
		}
		if stamp < cutoff {
			if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
				l.log.Warn().Err(err).Str("archive", name).Msg("failed to prune archive")
			}
		}
	}
	return nil
}
