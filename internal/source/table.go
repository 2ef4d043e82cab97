// Package source reads raw origin-destination tables (CSV, gzip-compressed
// CSV, non-UTF-8 CSV and XLSX) into memory.
package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/roomfulmoshe/Vertiport-Planner/internal/config"
)

// Recognized formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Table is a fully read raw table. Rows exclude the header and may be ragged.
type Table struct {
	Path   string
	Header []string
	Rows   [][]string
}

// Column returns the index of the named header, matched case-insensitively
// after trimming, or -1.
func (t *Table) Column(name string) int {
	name = strings.TrimSpace(name)
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Options selects how a table is decoded.
type Options struct {
	// Format is csv or xlsx; empty infers it from the file extension.
	Format string
	// Encoding names the CSV text encoding (e.g. "latin1"); empty means UTF-8.
	Encoding string
	// Sheet names the XLSX worksheet; empty reads SheetIndex.
	Sheet      string
	SheetIndex int
	// Delimiter and Comment default to ',' and none.
	Delimiter rune
	Comment   rune
	TrimSpace bool
}

// OptionsFromConfig extracts reader options from a source declaration.
func OptionsFromConfig(cfg config.SourceConfig) Options {
	delim, _ := config.ParseRune(cfg.Delimiter)
	comment, _ := config.ParseRune(cfg.Comment)
	return Options{
		Format:     cfg.Format,
		Encoding:   cfg.Encoding,
		Sheet:      cfg.Sheet,
		SheetIndex: cfg.SheetIndex,
		Delimiter:  delim,
		Comment:    comment,
		TrimSpace:  cfg.TrimSpace,
	}
}

// Read loads the whole table at path. Gzip-compressed CSV is detected by
// content and decompressed transparently.
func Read(ctx context.Context, path string, opts Options) (*Table, error) {
	format := strings.ToLower(opts.Format)
	if format == "" {
		format = inferFormat(path)
	}

	var (
		rowCh <-chan []string
		errCh <-chan error
	)
	switch format {
	case FormatXLSX:
		rowCh, errCh = StreamXLSX(ctx, path, XLSXOptions{SheetName: opts.Sheet, SheetIndex: opts.SheetIndex})
	case FormatCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		r, closer, err := decode(f, opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "source: decode %s", path)
		}
		defer closer() //nolint:errcheck
		rowCh, errCh = StreamCSV(ctx, r, CSVOptions{
			Delimiter:  opts.Delimiter,
			Comment:    opts.Comment,
			LazyQuotes: true,
			TrimSpace:  opts.TrimSpace,
		})
	default:
		return nil, eris.Errorf("source: unsupported format %q for %s", format, path)
	}

	t := &Table{Path: path}
	first := true
	for row := range rowCh {
		if first {
			first = false
			if len(row) > 0 {
				row[0] = strings.TrimPrefix(row[0], "\ufeff")
			}
			t.Header = row
			continue
		}
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "source: read %s", path)
		}
	}
	if t.Header == nil {
		return nil, eris.Errorf("source: %s has no header row", path)
	}
	return t, nil
}

func inferFormat(path string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSuffix(strings.ToLower(path), ".gz")))
	if ext == ".xlsx" {
		return FormatXLSX
	}
	return FormatCSV
}

// decode wraps r with gzip decompression when the content starts with the
// gzip magic number and with a charset decoder for non-UTF-8 encodings.
func decode(r io.Reader, encoding string) (io.Reader, func() error, error) {
	closer := func() error { return nil }
	br := bufio.NewReader(r)
	head, err := br.Peek(len(gzipMagic))
	if err != nil && err != io.EOF {
		return nil, nil, eris.Wrap(err, "source: peek")
	}
	var out io.Reader = br
	if bytes.Equal(head, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, eris.Wrap(err, "source: gzip")
		}
		out, closer = gz, gz.Close
	}

	switch enc := strings.ToLower(strings.TrimSpace(encoding)); enc {
	case "", "utf-8", "utf8":
	default:
		e, err := htmlindex.Get(enc)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "source: unsupported encoding %q", encoding)
		}
		out = e.NewDecoder().Reader(out)
	}
	return out, closer, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
