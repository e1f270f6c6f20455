package domainkey

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// FileResolver implements TXTResolver by scanning a flat text file of
// "qname key-record" lines ('#' starts a comment, blank lines ignored) —
// the file-backed equivalent spec.md §4.7 asks for in place of live DNS,
// used by tests and by arc.Config.TestKeys. The qname is matched
// case-insensitively, the way DNS names are.
type FileResolver struct {
	entries map[string][]string
}

// NewFileResolver loads path into memory once. Multiple lines for the
// same qname are kept as separate answers, so a test file can exercise
// the same "multiple TXT answers for one name" rejection a live resolver
// would trigger.
func NewFileResolver(path string) (*FileResolver, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("domainkey: open test key file: %w", err)
	}
	defer f.Close()

	entries := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexAny(line, " \t")
		if idx < 0 {
			continue
		}
		qname := strings.ToLower(strings.TrimSpace(line[:idx]))
		record := strings.TrimSpace(line[idx+1:])
		if qname == "" || record == "" {
			continue
		}
		entries[qname] = append(entries[qname], record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("domainkey: read test key file: %w", err)
	}
	return &FileResolver{entries: entries}, nil
}

// LookupTXT satisfies TXTResolver, returning every record stored for name.
func (r *FileResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	recs, ok := r.entries[strings.ToLower(name)]
	if !ok {
		return nil, ErrNoRecordFound
	}
	return recs, nil
}
