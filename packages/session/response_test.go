package session

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestDataSerializer(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		data    []byte
		err     error
		want    []byte
		wantErr error
	}{
		{"body", http.StatusOK, []byte("abc"), nil, []byte("abc"), nil},
		{"no content", http.StatusNoContent, nil, nil, []byte{}, nil},
		{"reset content", http.StatusResetContent, nil, nil, []byte{}, nil},
		{"empty body", http.StatusOK, nil, nil, nil, ErrNoResponseData},
		{"transport error", http.StatusOK, []byte("abc"), errTransport, nil, errTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DataSerializer(nil, &http.Response{StatusCode: tt.status}, tt.data, tt.err)
			if tt.wantErr != nil {
				assert.True(t, result.IsFailure())
				assert.ErrorIs(t, result.Err, tt.wantErr)
				return
			}
			require.True(t, result.IsSuccess())
			assert.Equal(t, tt.want, result.Value)
		})
	}
}

func TestStringSerializer(t *testing.T) {
	result := StringSerializer(nil, &http.Response{StatusCode: http.StatusOK}, []byte("héllo"), nil)
	require.NoError(t, result.Err)
	assert.Equal(t, "héllo", result.Value)
}

func TestJSONSerializer(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		data    string
		path    string
		want    string
		wantErr bool
	}{
		{"object", http.StatusOK, `{"user":{"name":"ada"}}`, "user.name", "ada", false},
		{"array", http.StatusOK, `[{"id":1},{"id":2}]`, "#.id", "[1,2]", false},
		{"no content", http.StatusNoContent, "", "anything", "", false},
		{"invalid", http.StatusOK, `{"user":`, "", "", true},
		{"empty body", http.StatusOK, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := JSONSerializer(nil, &http.Response{StatusCode: tt.status}, []byte(tt.data), nil)
			if tt.wantErr {
				assert.Error(t, result.Err)
				return
			}
			require.NoError(t, result.Err)
			assert.Equal(t, tt.want, result.Value.Get(tt.path).String())
		})
	}
}

func TestJSONSerializerInvalidIsSerializationError(t *testing.T) {
	result := JSONSerializer(nil, &http.Response{StatusCode: http.StatusOK}, []byte("not json"), nil)
	var serr *SerializationError
	assert.True(t, errors.As(result.Err, &serr))
}

func TestResponseJSONThroughSession(t *testing.T) {
	eng := newFakeEngine()
	s := newTestSession(eng)

	done := make(chan string, 1)
	r := s.Request(mustRequest(t, http.MethodGet, "http://example.com/users/1"))
	r.ValidateDefault()
	r.ResponseJSON(func(resp DataResponse[gjson.Result]) {
		done <- resp.Result.Value.Get("name").String()
	})

	task := eng.next(t)
	task.respond(http.StatusOK, "application/json; charset=utf-8", `{"name":"grace"}`)
	task.finish(nil)

	assert.Equal(t, "grace", waitFor(t, done))
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		accept      []string
		status      int
		contentType string
		body        string
		wantReason  ValidationReason
	}{
		{"exact", []string{"application/json"}, 200, "application/json", "{}", ""},
		{"wildcard subtype", []string{"text/*"}, 200, "text/html; charset=utf-8", "<p>", ""},
		{"any", []string{"*/*"}, 200, "image/png", "x", ""},
		{"mismatch", []string{"application/json"}, 200, "text/html", "<p>", ReasonUnacceptableContentType},
		{"missing with body", []string{"application/json"}, 200, "", "{}", ReasonMissingContentType},
		{"missing without body", []string{"application/json"}, 200, "", "", ""},
		{"no content", []string{"application/json"}, 204, "text/html", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			s := newTestSession(eng)

			done := make(chan DefaultResponse, 1)
			r := s.Request(mustRequest(t, http.MethodGet, "http://example.com/resource"))
			r.ValidateContentType(tt.accept...)
			r.Response(func(resp DefaultResponse) { done <- resp })

			task := eng.next(t)
			task.respond(tt.status, tt.contentType, tt.body)
			task.finish(nil)

			resp := waitFor(t, done)
			if tt.wantReason == "" {
				assert.NoError(t, resp.Error)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, resp.Error, &verr)
			assert.Equal(t, tt.wantReason, verr.Reason)
		})
	}
}

func TestValidateJSONSchema(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {"id": {"type": "integer"}, "name": {"type": "string"}}
	}`

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"id": 1, "name": "ada"}`, false},
		{"missing field", `{"id": 1}`, true},
		{"wrong type", `{"id": "one", "name": "ada"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newFakeEngine()
			s := newTestSession(eng)

			done := make(chan DefaultResponse, 1)
			r := s.Request(mustRequest(t, http.MethodGet, "http://example.com/users/1"))
			r.ValidateJSONSchema(schema)
			r.Response(func(resp DefaultResponse) { done <- resp })

			task := eng.next(t)
			task.respond(http.StatusOK, "application/json", tt.body)
			task.finish(nil)

			resp := waitFor(t, done)
			if !tt.wantErr {
				assert.NoError(t, resp.Error)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, resp.Error, &verr)
			assert.Equal(t, ReasonSchemaMismatch, verr.Reason)
			assert.NotEmpty(t, verr.Detail)
		})
	}
}

func TestTimelineDurations(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tl := Timeline{
		RequestStart:           start,
		InitialResponse:        start.Add(20 * time.Millisecond),
		RequestCompleted:       start.Add(50 * time.Millisecond),
		SerializationCompleted: start.Add(60 * time.Millisecond),
	}
	assert.Equal(t, 20*time.Millisecond, tl.Latency())
	assert.Equal(t, 50*time.Millisecond, tl.RequestDuration())
	assert.Equal(t, 10*time.Millisecond, tl.SerializationDuration())
	assert.Equal(t, 60*time.Millisecond, tl.TotalDuration())
	assert.Contains(t, tl.String(), "latency=20ms")

	assert.Equal(t, 0.25, Progress{Completed: 1, Total: 4}.Fraction())
	assert.Zero(t, Progress{Completed: 1, Total: -1}.Fraction())
}
