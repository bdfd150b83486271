package session

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// DownloadOptions control how a finished download is moved into place.
type DownloadOptions struct {
	CreateIntermediateDirectories bool
	RemovePreviousFile            bool
}

// Destination chooses where a finished download is moved. temporaryPath is
// removed by the engine once the delegate returns, so a download without a
// Destination is discarded.
type Destination func(temporaryPath string, response *http.Response) (string, DownloadOptions)

// SuggestedDownloadDestination places downloads in dir under the file name
// the server suggests, falling back to the last URL path segment.
func SuggestedDownloadDestination(dir string, opts DownloadOptions) Destination {
	return func(temporaryPath string, response *http.Response) (string, DownloadOptions) {
		return filepath.Join(dir, suggestedFilename(response)), opts
	}
}

func suggestedFilename(response *http.Response) string {
	if response != nil {
		if _, params, err := mime.ParseMediaType(response.Header.Get("Content-Disposition")); err == nil {
			if name := filepath.Base(params["filename"]); name != "." && name != "/" && params["filename"] != "" {
				return name
			}
		}
		if response.Request != nil {
			if name := path.Base(response.Request.URL.Path); name != "." && name != "/" {
				return name
			}
		}
	}
	return "download"
}

// downloadDelegate moves finished downloads to their destination and keeps
// the resume data of a cancelled transfer.
type downloadDelegate struct {
	*delegateCore

	destination     Destination
	temporaryPath   string
	destinationPath string
	resumeData      []byte
	resumedOffset   int64
}

func newDownloadDelegate(c *delegateCore, destination Destination) *downloadDelegate {
	return &downloadDelegate{delegateCore: c, destination: destination}
}

func (d *downloadDelegate) kind() engine.Kind { return engine.KindDownload }

func (d *downloadDelegate) didWriteData(bytesWritten, totalBytesWritten, totalBytesExpectedToWrite int64) {
	d.activate()
	d.markInitialResponse()
	d.updateProgress(Progress{Completed: totalBytesWritten, Total: totalBytesExpectedToWrite})
}

func (d *downloadDelegate) didResumeAtOffset(fileOffset, expectedTotalBytes int64) {
	d.activate()
	d.mu.Lock()
	d.resumedOffset = fileOffset
	d.mu.Unlock()
	d.updateProgress(Progress{Completed: fileOffset, Total: expectedTotalBytes})
}

func (d *downloadDelegate) didFinishDownloading(location string) {
	d.activate()
	d.mu.Lock()
	d.temporaryPath = location
	destination := d.destination
	task := d.task
	d.mu.Unlock()

	if destination == nil {
		return
	}
	var response *http.Response
	if task != nil {
		response = task.Response()
	}
	target, opts := destination(location, response)
	if err := moveFile(location, target, opts); err != nil {
		d.setError(err)
		return
	}
	d.mu.Lock()
	d.destinationPath = target
	d.mu.Unlock()
}

func (d *downloadDelegate) setResumeData(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resumeData = data
}

func (d *downloadDelegate) paths() (temporary, destination string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.temporaryPath, d.destinationPath
}

func (d *downloadDelegate) currentResumeData() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resumeData
}

func (d *downloadDelegate) reset(task engine.Task) {
	d.resetCore(task)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.temporaryPath = ""
	d.destinationPath = ""
	d.resumedOffset = 0
	d.resumeData = nil
}

func moveFile(src, dst string, opts DownloadOptions) error {
	if opts.CreateIntermediateDirectories {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
	}
	if opts.RemovePreviousFile {
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove previous file: %w", err)
		}
	} else if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("destination already exists: %s", dst)
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across file systems
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open downloaded file: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy downloaded file: %w", err)
	}
	return out.Close()
}
