// Package snapshot exports the document store to object storage and
// restores it on startup. A snapshot plus the journal entries after its LSN
// reproduce the store.
package snapshot

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/golang/snappy"

	"github.com/arkilian/docrune/pkg/types"
)

// FormatVersion is written into every snapshot header.
const FormatVersion = 1

// Header is the first line of a snapshot file.
type Header struct {
	Version          int       `json:"version"`
	Container        string    `json:"container"`
	PartitionKeyPath string    `json:"partition_key_path"`
	LSN              uint64    `json:"lsn"`
	CreatedAt        time.Time `json:"created_at"`
}

// Footer is the last line of a snapshot file. Checksum is the SHA-256 of
// the document lines.
type Footer struct {
	Documents int64  `json:"documents"`
	Checksum  string `json:"checksum"`
}

// Writer writes a snapshot file: a snappy stream of JSON lines holding the
// header, one line per document and the footer.
type Writer struct {
	file  *os.File
	snap  *snappy.Writer
	sum   hash.Hash
	count int64
}

// Create starts a snapshot file at path.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create %s: %w", path, err)
	}
	w := &Writer{file: f, snap: snappy.NewBufferedWriter(f), sum: sha256.New()}
	h.Version = FormatVersion
	if err := w.line(h, false); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Add appends one document.
func (w *Writer) Add(doc types.Document) error {
	if err := w.line(doc, true); err != nil {
		return err
	}
	w.count++
	return nil
}

// Close writes the footer and syncs the file. It returns the footer.
func (w *Writer) Close() (Footer, error) {
	footer := Footer{Documents: w.count, Checksum: hex.EncodeToString(w.sum.Sum(nil))}
	if err := w.line(footer, false); err != nil {
		w.file.Close()
		return footer, err
	}
	if err := w.snap.Close(); err != nil {
		w.file.Close()
		return footer, fmt.Errorf("snapshot: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return footer, fmt.Errorf("snapshot: sync: %w", err)
	}
	return footer, w.file.Close()
}

func (w *Writer) line(v any, hashed bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	data = append(data, '\n')
	if hashed {
		w.sum.Write(data)
	}
	if _, err := w.snap.Write(data); err != nil {
		return fmt.Errorf("snapshot: write: %w", err)
	}
	return nil
}

// Read streams the snapshot at path: it passes the header to onHeader,
// which may be nil, then calls fn for every document in file order. The footer's count and checksum are
// verified once the documents are read; fn may already have seen documents
// of a corrupt file.
func Read(path string, onHeader func(Header) error, fn func(types.Document) error) (Header, Footer, error) {
	var h Header
	var footer Footer

	f, err := os.Open(path)
	if err != nil {
		return h, footer, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(snappy.NewReader(f))
	first, err := r.ReadBytes('\n')
	if err != nil {
		return h, footer, fmt.Errorf("snapshot: read header: %w", err)
	}
	if err := json.Unmarshal(first, &h); err != nil {
		return h, footer, fmt.Errorf("snapshot: decode header: %w", err)
	}
	if h.Version != FormatVersion {
		return h, footer, fmt.Errorf("snapshot: unsupported format version %d", h.Version)
	}
	if onHeader != nil {
		if err := onHeader(h); err != nil {
			return h, footer, err
		}
	}

	sum := sha256.New()
	var count int64
	var pending []byte
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return h, footer, fmt.Errorf("snapshot: read: %w", err)
		}
		// the last line is the footer, so documents lag one line behind
		if pending != nil {
			if err := decodeDocument(pending, fn); err != nil {
				return h, footer, err
			}
			sum.Write(pending)
			count++
		}
		pending = line
	}
	if pending == nil {
		return h, footer, fmt.Errorf("snapshot: missing footer")
	}
	if err := json.Unmarshal(pending, &footer); err != nil {
		return h, footer, fmt.Errorf("snapshot: decode footer: %w", err)
	}

	if err := verify(footer, count, hex.EncodeToString(sum.Sum(nil))); err != nil {
		return h, footer, err
	}
	return h, footer, nil
}

func decodeDocument(line []byte, fn func(types.Document) error) error {
	var doc types.Document
	if err := json.Unmarshal(line, &doc); err != nil {
		return fmt.Errorf("snapshot: decode document: %w", err)
	}
	return fn(doc)
}
