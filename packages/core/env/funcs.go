package env

import (
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Func generates a placeholder value from its arguments.
type Func func(args []string) (string, error)

var funcCallPattern = regexp.MustCompile(`^(\w+)\((.*)\)$`)

func defaultFuncs() map[string]Func {
	return map[string]Func{
		"uuid":        func([]string) (string, error) { return uuid.NewString(), nil },
		"now":         func([]string) (string, error) { return time.Now().UTC().Format(time.RFC3339), nil },
		"timestamp":   func([]string) (string, error) { return strconv.FormatInt(time.Now().Unix(), 10), nil },
		"timestampMs": func([]string) (string, error) { return strconv.FormatInt(time.Now().UnixMilli(), 10), nil },
		"random":      funcRandom,
		"base64":      oneArg(func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }),
		"urlEncode":   oneArg(url.QueryEscape),
	}
}

func (r *Resolver) call(expr string) (string, bool) {
	m := funcCallPattern.FindStringSubmatch(expr)
	if m == nil {
		return "", false
	}
	r.mu.RLock()
	fn, ok := r.funcs[m[1]]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}

	var args []string
	if m[2] != "" {
		args = parseArgs(m[2])
	}
	v, err := fn(args)
	if err != nil {
		r.logger.Warn("placeholder function failed", "function", m[1], "error", err)
		return "", false
	}
	return v, true
}

func oneArg(fn func(string) string) Func {
	return func(args []string) (string, error) {
		if len(args) != 1 {
			return "", fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		return fn(args[0]), nil
	}
}

// funcRandom returns an integer in [min, max], 0 to 100 by default.
func funcRandom(args []string) (string, error) {
	lo, hi := 0, 100
	if len(args) == 2 {
		var err error
		if lo, err = strconv.Atoi(args[0]); err != nil {
			return "", fmt.Errorf("random min %q: %w", args[0], err)
		}
		if hi, err = strconv.Atoi(args[1]); err != nil {
			return "", fmt.Errorf("random max %q: %w", args[1], err)
		}
	}
	if hi < lo {
		return "", fmt.Errorf("random max %d is below min %d", hi, lo)
	}
	return strconv.Itoa(lo + rand.IntN(hi-lo+1)), nil
}

// parseArgs splits comma separated arguments, honouring quotes.
func parseArgs(s string) []string {
	var args []string
	var current strings.Builder
	var quote byte

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote == 0 && (ch == '"' || ch == '\''):
			quote = ch
		case quote != 0 && ch == quote:
			quote = 0
		case quote == 0 && ch == ',':
			args = append(args, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	return append(args, strings.TrimSpace(current.String()))
}
