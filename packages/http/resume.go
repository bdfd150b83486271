package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/abdul-hamid-achik/courier/packages/engine"
)

// resumeToken is the opaque resume data handed out when a download is
// cancelled. It records where the partial file lives and how to validate
// that the server still serves the same entity.
type resumeToken struct {
	URL          string `json:"url"`
	Path         string `json:"path"`
	Offset       int64  `json:"offset"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

func newResumeToken(url, path string, written int64, resp *http.Response) *resumeToken {
	token := &resumeToken{URL: url, Path: path, Offset: written}
	if resp != nil {
		token.ETag = resp.Header.Get("ETag")
		token.LastModified = resp.Header.Get("Last-Modified")
	}
	return token
}

func (r *resumeToken) encode() ([]byte, error) {
	return json.Marshal(r)
}

func decodeResumeData(data []byte) (*resumeToken, error) {
	if len(data) == 0 {
		return nil, engine.ErrInvalidResumeData
	}
	var token resumeToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidResumeData, err)
	}
	if token.URL == "" || token.Offset < 0 {
		return nil, fmt.Errorf("%w: missing url or offset", engine.ErrInvalidResumeData)
	}
	return &token, nil
}

// apply asks the server for the remainder of the entity. If-Range makes the
// server fall back to a full 200 when the entity changed.
func (r *resumeToken) apply(req *http.Request) {
	if r.Offset <= 0 {
		return
	}
	req.Header.Set("Range", "bytes="+strconv.FormatInt(r.Offset, 10)+"-")
	switch {
	case r.ETag != "":
		req.Header.Set("If-Range", r.ETag)
	case r.LastModified != "":
		req.Header.Set("If-Range", r.LastModified)
	}
}
