package persistence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/ellory/everworld/internal/world"
)

// ZstdTickLog appends tick records as zstd-compressed JSONL. It is the
// portable half of the accepted-intention log: cmd/replay can verify a
// run from this file alone, without the database.
type ZstdTickLog struct {
	mu   sync.Mutex
	file *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
}

// OpenTickLog creates or truncates the log at path.
func OpenTickLog(path string) (*ZstdTickLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create tick log %s: %w", path, err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return &ZstdTickLog{file: f, zw: zw, bw: bufio.NewWriter(zw)}, nil
}

// WriteTick implements world.TickLogger: one JSON line per tick.
func (l *ZstdTickLog) WriteTick(rec world.TickRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal tick %d: %w", rec.Tick, err)
	}
	if _, err := l.bw.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write tick %d: %w", rec.Tick, err)
	}
	// Flush per tick so a crash loses at most the in-flight record.
	if err := l.bw.Flush(); err != nil {
		return err
	}
	return l.zw.Flush()
}

// Close flushes and closes the log.
func (l *ZstdTickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bw.Flush(); err != nil {
		return err
	}
	if err := l.zw.Close(); err != nil {
		return err
	}
	return l.file.Close()
}

// ReadTickLog loads every record from a zstd JSONL log, in file order.
func ReadTickLog(path string) ([]world.TickRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tick log %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	var out []world.TickRecord
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec world.TickRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("tick log line %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan tick log: %w", err)
	}
	return out, nil
}
