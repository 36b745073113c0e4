// Package ingest turns uploaded files into documents. The format is chosen by
// file extension; anything unrecognised is read as UTF-8 text.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/researcher/internal/documents"
)

// MaxFileSize bounds a single upload.
const MaxFileSize = 32 << 20

var ErrTooLarge = errors.New("file exceeds maximum size")

// ParseError reports a file that could not be read in its declared format.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Source is a named file body.
type Source struct {
	Name   string
	Reader io.Reader
}

// Parse reads r according to the extension of name.
func Parse(name string, r io.Reader) (documents.Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return documents.Document{}, &ParseError{Name: name, Err: err}
	}
	if len(data) > MaxFileSize {
		return documents.Document{}, &ParseError{Name: name, Err: ErrTooLarge}
	}

	doc := documents.Document{Name: name}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		doc.Table, err = parseCSV(data)
	case ".pdf":
		doc.Text, err = parsePDF(data)
	case ".docx":
		doc.Text, err = parseDOCX(data)
	case ".html", ".htm":
		doc.Text = parseHTML(name, data)
	default:
		doc.Text = parseText(data)
	}
	if err != nil {
		return documents.Document{}, &ParseError{Name: name, Err: err}
	}
	return doc, nil
}

// ParseFile parses the file at path under its base name.
func ParseFile(path string) (documents.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return documents.Document{}, err
	}
	defer f.Close()
	return Parse(filepath.Base(path), f)
}

// ParseFiles parses every source into a set. A later source with the same
// name replaces an earlier one.
func ParseFiles(sources []Source) (documents.Set, error) {
	set := documents.Set{}
	for _, src := range sources {
		doc, err := Parse(src.Name, src.Reader)
		if err != nil {
			return nil, err
		}
		set.Put(doc)
	}
	return set, nil
}

func parseText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "")
}
