package output

import (
	"encoding/json"
	"io"
	"slices"
	"time"

	"github.com/abdul-hamid-achik/courier/packages/session"
)

// JSONResponse is the machine readable form of a response.
type JSONResponse struct {
	Method      string            `json:"method,omitempty"`
	URL         string            `json:"url,omitempty"`
	StatusCode  int               `json:"statusCode,omitempty"`
	Status      string            `json:"status,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        json.RawMessage   `json:"body,omitempty"`
	Text        string            `json:"text,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Retries     int               `json:"retries"`
	Timeline    JSONTimeline      `json:"timeline"`
	Error       string            `json:"error,omitempty"`
}

// JSONTimeline holds durations in milliseconds.
type JSONTimeline struct {
	Latency       float64 `json:"latency"`
	Request       float64 `json:"request"`
	Serialization float64 `json:"serialization"`
	Total         float64 `json:"total"`
}

// NewJSONResponse converts resp. A JSON body is embedded as is, any other
// body is carried as text.
func NewJSONResponse(resp session.DefaultResponse, retries int) JSONResponse {
	out := JSONResponse{
		Destination: resp.DestinationPath,
		Retries:     retries,
		Timeline: JSONTimeline{
			Latency:       ms(resp.Timeline.Latency()),
			Request:       ms(resp.Timeline.RequestDuration()),
			Serialization: ms(resp.Timeline.SerializationDuration()),
			Total:         ms(resp.Timeline.TotalDuration()),
		},
	}
	if resp.Request != nil {
		out.Method = resp.Request.Method
		out.URL = resp.Request.URL.String()
	}
	if resp.Response != nil {
		out.StatusCode = resp.Response.StatusCode
		out.Status = resp.Response.Status
		out.Headers = make(map[string]string, len(resp.Response.Header))
		for k := range resp.Response.Header {
			out.Headers[k] = resp.Response.Header.Get(k)
		}
	}
	if len(resp.Data) > 0 {
		if json.Valid(resp.Data) {
			out.Body = slices.Clone(resp.Data)
		} else {
			out.Text = string(resp.Data)
		}
	}
	if resp.Error != nil {
		out.Error = resp.Error.Error()
	}
	return out
}

// WriteJSON writes resp as indented JSON.
func WriteJSON(w io.Writer, resp session.DefaultResponse, retries int) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(NewJSONResponse(resp, retries))
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
