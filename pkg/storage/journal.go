package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
)

// Journal receives one line per applied transaction
type Journal interface {
	Append(r transaction.Receipt) error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                          { return &NopJournal{} }
func (j *NopJournal) Append(_ transaction.Receipt) error { return nil }

// FileJournal appends receipts as JSON lines to a file
type FileJournal struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileJournal(path string) (*FileJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(r transaction.Receipt) error {
	line, err := json.Marshal(r)
	if err != nil {
		return Error.Wrap(err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.f, string(line))
	return Error.Wrap(err)
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Error.Wrap(j.f.Close())
}

var _ Journal = (*NopJournal)(nil)
var _ Journal = (*FileJournal)(nil)
