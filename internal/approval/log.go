package approval

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// ErrLogTampered is returned when the audit log's hash chain does not
// verify.
var ErrLogTampered = errors.New("approval: audit log hash chain broken")

// logEntry is one line of the JSONL audit log. The request fields sit
// at the top level next to the chain fields, so the file greps like a
// plain request journal. EntryHash covers the request snapshot plus
// the previous entry's hash, chaining the file.
type logEntry struct {
	Request
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// Log is an append-only JSONL file whose entries form a hash chain.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	lastHash string
}

// OpenLog opens the log at path, creating it if needed, and verifies the
// existing chain end to end.
func OpenLog(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	lastHash, err := verifyChain(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return &Log{file: file, lastHash: lastHash}, nil
}

// Append writes one entry, linking it to the previous one.
func (l *Log) Append(req *Request) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := logEntry{Request: *req, PrevHash: l.lastHash}
	entry.EntryHash = hashEntry(entry.Request, entry.PrevHash)

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync log: %w", err)
	}

	l.lastHash = entry.EntryHash
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// verifyChain walks the log and returns the hash of the final entry.
// An empty or missing file yields an empty hash.
func verifyChain(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	var (
		lastHash string
		lineNo   int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry logEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return "", fmt.Errorf("line %d: %w", lineNo, err)
		}
		if entry.PrevHash != lastHash {
			return "", fmt.Errorf("line %d: %w", lineNo, ErrLogTampered)
		}
		if hashEntry(entry.Request, entry.PrevHash) != entry.EntryHash {
			return "", fmt.Errorf("line %d: %w", lineNo, ErrLogTampered)
		}
		lastHash = entry.EntryHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan log: %w", err)
	}
	return lastHash, nil
}

func hashEntry(req Request, prevHash string) string {
	payload, _ := json.Marshal(req)
	h, _ := blake2b.New256(nil)
	h.Write([]byte(prevHash))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
