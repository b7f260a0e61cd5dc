package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/text/encoding/unicode"
)

// ErrUndecodable marks input that failed every supported text encoding.
var ErrUndecodable = errors.New("input not decodable in any supported encoding")

// ErrNoColumns is returned by WriteFile for a table without a header, which
// could not be read back.
var ErrNoColumns = errors.New("table has no columns")

// Encoding names a text encoding tried by Decode.
type Encoding string

const (
	UTF8  Encoding = "utf-8"
	UTF16 Encoding = "utf-16"
)

// decodeOrder is the fallback chain for input files.
var decodeOrder = []Encoding{UTF8, UTF16}

// ReadOptions control parsing of delimited text.
type ReadOptions struct {
	Comma    rune     // field delimiter, ',' when zero
	Required []string // a decode attempt only succeeds if these columns are present
	Logger   *slog.Logger
}

// ReadFile reads a delimited file, transparently decompressing .xz and .gz,
// and decodes it with the UTF-8 then UTF-16 fallback.
func ReadFile(path string, opts ReadOptions) (*Table, error) {
	data, err := readDecompressed(path)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		opts.Logger = opts.Logger.With(slog.String("file", path))
	}
	t, err := Decode(data, opts)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// Decode parses raw bytes, trying each supported encoding in turn. A failed
// attempt is logged; if every attempt fails the error wraps ErrUndecodable.
func Decode(data []byte, opts ReadOptions) (*Table, error) {
	var attemptErrs error
	for _, enc := range decodeOrder {
		t, err := decodeAs(data, enc, opts)
		if err == nil {
			return t, nil
		}
		if opts.Logger != nil {
			opts.Logger.Warn("Decode attempt failed.", slog.String("encoding", string(enc)), "error", err)
		}
		attemptErrs = errors.Join(attemptErrs, fmt.Errorf("%s: %w", enc, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrUndecodable, attemptErrs)
}

func decodeAs(data []byte, enc Encoding, opts ReadOptions) (*Table, error) {
	text, err := decodeText(data, enc)
	if err != nil {
		return nil, err
	}
	comma := opts.Comma
	if comma == 0 {
		comma = ','
	}
	t, err := Parse(text, comma)
	if err != nil {
		return nil, err
	}
	if missing := t.Missing(opts.Required...); len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns %v", missing)
	}
	return t, nil
}

func decodeText(data []byte, enc Encoding) (string, error) {
	switch enc {
	case UTF8:
		data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
		if !utf8.Valid(data) {
			return "", errors.New("invalid utf-8 byte sequence")
		}
		// UTF-16 text without a BOM is valid UTF-8 with NULs in between.
		if bytes.IndexByte(data, 0) >= 0 {
			return "", errors.New("NUL byte in utf-8 text")
		}
		return string(data), nil
	case UTF16:
		if len(data)%2 != 0 {
			return "", errors.New("odd byte count for utf-16")
		}
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(out) || bytes.ContainsRune(out, utf8.RuneError) {
			return "", errors.New("invalid utf-16 code units")
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

// Parse reads delimited UTF-8 text with a header line.
func Parse(text string, comma rune) (*Table, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse delimited text: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("no header line")
	}
	t := New(records[0]...)
	for _, rec := range records[1:] {
		t.Append(rec...)
	}
	return t, nil
}

// ParseLines builds a single-column table from newline separated values,
// ignoring blank lines and a leading byte order mark.
func ParseLines(text, column string) *Table {
	t := New(column)
	text = strings.TrimPrefix(text, "\ufeff")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t.Append(line)
	}
	return t
}

// WriteFile persists t as CSV, compressed by extension (.xz, .gz). The data
// is written to a temporary file in the destination directory and renamed
// into place, so readers never observe a partial file.
func WriteFile(path string, t *Table) (err error) {
	if len(t.Columns) == 0 {
		return fmt.Errorf("write %s: %w", path, ErrNoColumns)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w, err := compressWriter(tmp, path)
	if err != nil {
		return err
	}
	if err := Encode(w, t); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish compression for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move %s into place: %w", path, err)
	}
	return nil
}

// Encode writes t as comma separated UTF-8 text with a header.
func Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, path string) (io.WriteCloser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xz":
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create xz writer: %w", err)
		}
		return xw, nil
	case ".gz":
		return gzip.NewWriter(w), nil
	default:
		return nopWriteCloser{w}, nil
	}
}

func readDecompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open xz stream %s: %w", path, err)
		}
		r = xr
	case ".gz":
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
		}
		defer gr.Close()
		r = gr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
