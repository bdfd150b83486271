package env

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Setenv("COURIER_TEST_TOKEN", "from-env")

	r := NewResolver()
	r.SetAll(map[string]string{"host": "api.example.com", "id": "42"})

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no placeholders", "plain text", "plain text"},
		{"variable", "https://{{host}}/users/{{ id }}", "https://api.example.com/users/42"},
		{"environment", "Bearer {{$COURIER_TEST_TOKEN}}", "Bearer from-env"},
		{"missing environment", "{{$COURIER_TEST_MISSING}}", "{{$COURIER_TEST_MISSING}}"},
		{"unknown variable", "{{nope}}", "{{nope}}"},
		{"function", "{{base64(ada:secret)}}", "YWRhOnNlY3JldA=="},
		{"quoted argument", `{{urlEncode("a b,c")}}`, "a+b%2Cc"},
		{"unknown function", "{{shout(x)}}", "{{shout(x)}}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.input))
		})
	}
}

func TestResolveGenerators(t *testing.T) {
	r := NewResolver()

	_, err := uuid.Parse(r.Resolve("{{uuid()}}"))
	assert.NoError(t, err)

	n, err := strconv.Atoi(r.Resolve("{{random(5, 7)}}"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 5)
	assert.LessOrEqual(t, n, 7)

	assert.Equal(t, "{{random(9, 1)}}", r.Resolve("{{random(9, 1)}}"))
}

func TestRegisterAndResolveAll(t *testing.T) {
	r := NewResolver()
	r.Register("tenant", func([]string) (string, error) { return "acme", nil })
	r.Set("token", "t0k")

	got := r.ResolveAll(map[string]string{
		"Authorization": "Bearer {{token}}",
		"X-Tenant":      "{{tenant()}}",
	})
	assert.Equal(t, map[string]string{"Authorization": "Bearer t0k", "X-Tenant": "acme"}, got)
	assert.Nil(t, r.ResolveAll(nil))
}

func TestParseAssignments(t *testing.T) {
	r := NewResolver()
	require.NoError(t, r.ParseAssignments([]string{"a=1", "query=x=y", "empty="}))
	assert.Equal(t, "1 x=y []", r.Resolve("{{a}} {{query}} [{{empty}}]"))

	assert.Error(t, r.ParseAssignments([]string{"novalue"}))
	assert.Error(t, r.ParseAssignments([]string{"=x"}))
}

func TestUnresolved(t *testing.T) {
	r := NewResolver()
	r.Set("known", "v")
	assert.Equal(t, []string{"{{missing}}", "{{$COURIER_TEST_NOT_SET}}"},
		r.Unresolved("{{known}} {{missing}} {{$COURIER_TEST_NOT_SET}} {{uuid()}}"))
}
