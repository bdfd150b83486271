// Package multipart encodes multipart/form-data bodies for upload requests.
package multipart

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// DefaultMemoryThreshold is the largest body encoded in memory. Bigger
// bodies are staged in a temporary file.
const DefaultMemoryThreshold int64 = 10 * 1024 * 1024

// FieldType distinguishes plain values from file parts.
type FieldType int

const (
	FieldValue FieldType = iota
	FieldFile
	FieldData
)

// Field is one part of the form.
type Field struct {
	Type  FieldType
	Name  string
	Value string
	// Path is the file for FieldFile parts
	Path string
	// Data and FileName back FieldData parts
	Data        []byte
	FileName    string
	ContentType string
}

// Form is an engine.Uploadable. Every Open encodes the fields again, so the
// same form can be sent by retries.
type Form struct {
	fields   []Field
	boundary string

	// BaseDir, when set, confines file parts to that directory tree.
	BaseDir string
	// MemoryThreshold overrides DefaultMemoryThreshold.
	MemoryThreshold int64
	// TempDir is where large bodies are staged. Empty uses os.TempDir.
	TempDir string
}

var _ engine.Uploadable = (*Form)(nil)

// NewForm returns an empty form with a random boundary.
func NewForm() *Form {
	return &Form{boundary: randomBoundary()}
}

func randomBoundary() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return "courier." + hex.EncodeToString(buf[:])
}

// AddField appends a plain form value.
func (f *Form) AddField(name, value string) *Form {
	f.fields = append(f.fields, Field{Type: FieldValue, Name: name, Value: value})
	return f
}

// AddFile appends the contents of the file at path. Relative paths resolve
// against BaseDir.
func (f *Form) AddFile(name, path string) *Form {
	f.fields = append(f.fields, Field{Type: FieldFile, Name: name, Path: path})
	return f
}

// AddData appends in-memory content as a file part.
func (f *Form) AddData(name, fileName, contentType string, data []byte) *Form {
	f.fields = append(f.fields, Field{Type: FieldData, Name: name, FileName: fileName, ContentType: contentType, Data: data})
	return f
}

// Fields returns the parts added so far.
func (f *Form) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

// ContentType is the header value to send with the body.
func (f *Form) ContentType() string {
	return "multipart/form-data; boundary=" + f.boundary
}

// Open implements engine.Uploadable.
func (f *Form) Open() (io.ReadCloser, int64, error) {
	size, err := f.contentLength()
	if err != nil {
		return nil, 0, err
	}

	threshold := f.MemoryThreshold
	if threshold <= 0 {
		threshold = DefaultMemoryThreshold
	}
	if size <= threshold {
		body := &bytes.Buffer{}
		if err := f.WriteTo(body); err != nil {
			return nil, 0, err
		}
		return io.NopCloser(body), int64(body.Len()), nil
	}
	return f.stage()
}

// stage encodes the body into a temporary file removed on Close.
func (f *Form) stage() (io.ReadCloser, int64, error) {
	tmp, err := os.CreateTemp(f.TempDir, "courier-multipart-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create staging file: %w", err)
	}
	if err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, err
	}
	n, err := tmp.Seek(0, io.SeekCurrent)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, 0, fmt.Errorf("failed to rewind staging file: %w", err)
	}
	return &stagedFile{File: tmp}, n, nil
}

type stagedFile struct {
	*os.File
}

func (s *stagedFile) Close() error {
	err := s.File.Close()
	if rmErr := os.Remove(s.Name()); err == nil {
		err = rmErr
	}
	return err
}

// WriteTo encodes the form into w.
func (f *Form) WriteTo(w io.Writer) error {
	writer := multipart.NewWriter(w)
	if err := writer.SetBoundary(f.boundary); err != nil {
		return err
	}

	for _, field := range f.fields {
		switch field.Type {
		case FieldFile:
			path, err := f.resolve(field.Path)
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			part, err := writer.CreateFormFile(field.Name, filepath.Base(path))
			if err != nil {
				file.Close()
				return err
			}
			_, err = io.Copy(part, file)
			file.Close()
			if err != nil {
				return err
			}
		case FieldData:
			part, err := writer.CreatePart(dataHeader(field))
			if err != nil {
				return err
			}
			if _, err := part.Write(field.Data); err != nil {
				return err
			}
		default:
			if err := writer.WriteField(field.Name, field.Value); err != nil {
				return err
			}
		}
	}

	return writer.Close()
}

func dataHeader(field Field) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(field.Name), escapeQuotes(field.FileName)))
	contentType := field.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

// contentLength is the encoded size. File sizes come from stat, so no
// contents are read.
func (f *Form) contentLength() (int64, error) {
	counter := &countingWriter{}
	writer := multipart.NewWriter(counter)
	if err := writer.SetBoundary(f.boundary); err != nil {
		return 0, err
	}
	for _, field := range f.fields {
		switch field.Type {
		case FieldFile:
			path, err := f.resolve(field.Path)
			if err != nil {
				return 0, err
			}
			info, err := os.Stat(path)
			if err != nil {
				return 0, err
			}
			if _, err := writer.CreateFormFile(field.Name, filepath.Base(path)); err != nil {
				return 0, err
			}
			counter.n += info.Size()
		case FieldData:
			if _, err := writer.CreatePart(dataHeader(field)); err != nil {
				return 0, err
			}
			counter.n += int64(len(field.Data))
		default:
			if err := writer.WriteField(field.Name, field.Value); err != nil {
				return 0, err
			}
		}
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}
	return counter.n, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

func (f *Form) resolve(path string) (string, error) {
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}
	if err := validatePathWithinBase(path, f.BaseDir); err != nil {
		return "", err
	}
	return path, nil
}

// validatePathWithinBase checks that the resolved path stays within the base directory
// to prevent path traversal attacks
func validatePathWithinBase(path, baseDir string) error {
	if baseDir == "" {
		return nil
	}

	cleanBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %v", err)
	}

	cleanPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %v", err)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) && cleanPath != cleanBase {
		return fmt.Errorf("path traversal detected: %s is outside allowed directory %s", path, baseDir)
	}

	return nil
}
