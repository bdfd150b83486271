package session

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// UploadData uploads an in-memory body.
type UploadData []byte

func (u UploadData) Open() (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(u)), int64(len(u)), nil
}

// UploadFile uploads the file at the given path, reopened on every attempt.
type UploadFile string

func (u UploadFile) Open() (io.ReadCloser, int64, error) {
	f, err := os.Open(string(u))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open upload file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat upload file: %w", err)
	}
	return f, info.Size(), nil
}

// UploadFunc adapts a body factory to engine.Uploadable.
type UploadFunc func() (io.ReadCloser, int64, error)

func (f UploadFunc) Open() (io.ReadCloser, int64, error) {
	return f()
}

var (
	_ engine.Uploadable = UploadData(nil)
	_ engine.Uploadable = UploadFile("")
	_ engine.Uploadable = UploadFunc(nil)
)
