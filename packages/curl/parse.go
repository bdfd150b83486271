// Package curl reads cURL command lines back into courier requests, the
// reverse of session.Request.CURL.
package curl

import (
	"fmt"
	"strings"

	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
)

// Command is a parsed cURL invocation.
type Command struct {
	Request         *courierhttp.Request
	User            string
	Password        string
	Insecure        bool
	FollowRedirects bool
	Verbose         bool
}

// Parse parses a curl command string. Line continuations and a leading "$ "
// prompt are accepted.
func Parse(curlCmd string) (*Command, error) {
	curlCmd = strings.TrimSpace(curlCmd)
	curlCmd = strings.TrimPrefix(curlCmd, "$ ")

	tokens := tokenize(curlCmd)
	if len(tokens) > 0 && tokens[0] == "curl" {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("no URL specified")
	}

	cmd := &Command{Request: courierhttp.NewRequest("", "")}
	req := cmd.Request
	method := ""
	var cookies []string

	value := func(i int) (string, error) {
		if i+1 >= len(tokens) {
			return "", fmt.Errorf("missing value for %s", tokens[i])
		}
		return tokens[i+1], nil
	}

	for i := 0; i < len(tokens); i++ {
		token := tokens[i]
		switch token {
		case "-X", "--request":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			method = strings.ToUpper(v)
			i++
		case "-H", "--header":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			if parts := strings.SplitN(v, ":", 2); len(parts) == 2 {
				req.SetHeader(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}
			i++
		case "-d", "--data", "--data-raw", "--data-binary":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			req.SetBody([]byte(v))
			i++
		case "-u", "--user":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			cmd.User, cmd.Password, _ = strings.Cut(v, ":")
			i++
		case "-b", "--cookie":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			cookies = append(cookies, v)
			i++
		case "-A", "--user-agent":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			req.SetHeader("User-Agent", v)
			i++
		case "-e", "--referer":
			v, err := value(i)
			if err != nil {
				return nil, err
			}
			req.SetHeader("Referer", v)
			i++
		case "-k", "--insecure":
			cmd.Insecure = true
		case "-L", "--location":
			cmd.FollowRedirects = true
		case "-v", "--verbose":
			cmd.Verbose = true
		default:
			switch {
			case isURL(token):
				if req.URL == "" {
					req.URL = token
				}
			case strings.HasPrefix(token, "-"):
				// unknown flag; skip its value when it has one
				if i+1 < len(tokens) && !strings.HasPrefix(tokens[i+1], "-") && !isURL(tokens[i+1]) {
					i++
				}
			}
		}
	}

	if req.URL == "" {
		return nil, fmt.Errorf("no URL found in curl command")
	}
	if len(cookies) > 0 {
		req.SetHeader("Cookie", strings.Join(cookies, "; "))
	}
	switch {
	case method != "":
		req.Method = method
	case len(req.Body) > 0:
		req.Method = "POST"
	default:
		req.Method = "GET"
	}
	return cmd, nil
}

// tokenize splits a curl command into tokens, respecting quotes. A
// backslash before a newline continues the line.
func tokenize(cmd string) []string {
	var tokens []string
	var current strings.Builder
	inSingleQuote := false
	inDoubleQuote := false
	escaped := false
	quoted := false

	flush := func() {
		if current.Len() > 0 || quoted {
			tokens = append(tokens, current.String())
			current.Reset()
		}
		quoted = false
	}

	for _, r := range cmd {
		if escaped {
			escaped = false
			if r == '\n' {
				continue
			}
			current.WriteRune(r)
			continue
		}

		switch r {
		case '\\':
			if inSingleQuote {
				current.WriteRune(r)
			} else {
				escaped = true
			}
		case '\'':
			if !inDoubleQuote {
				inSingleQuote = !inSingleQuote
				quoted = true
			} else {
				current.WriteRune(r)
			}
		case '"':
			if !inSingleQuote {
				inDoubleQuote = !inDoubleQuote
				quoted = true
			} else {
				current.WriteRune(r)
			}
		case ' ', '\t', '\n', '\r':
			if inSingleQuote || inDoubleQuote {
				current.WriteRune(r)
			} else {
				flush()
			}
		default:
			current.WriteRune(r)
		}
	}
	flush()

	return tokens
}

// isURL checks if a string looks like a URL.
func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
