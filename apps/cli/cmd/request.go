package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/courier/packages/core/config"
	"github.com/abdul-hamid-achik/courier/packages/core/env"
	"github.com/abdul-hamid-achik/courier/packages/core/template"
	"github.com/abdul-hamid-achik/courier/packages/curl"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
)

// requestFlags describe the request and how the session sends it. They are
// shared by fetch and curl.
type requestFlags struct {
	method    string
	headers   []string
	data      string
	form      string
	multipart []string
	user      string
	bearer    string
	oauth2    string
	aws       string

	file     string
	fromCurl string
	vars     []string
	envFile  string

	timeout      time.Duration
	retries      int
	insecure     bool
	proxy        string
	maxRedirects int
	noFollow     bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.method, "request", "X", "", "HTTP method (default GET, or POST with a body)")
	flags.StringArrayVarP(&f.headers, "header", "H", nil, `Request header "Name: value" (repeatable)`)
	flags.StringVarP(&f.data, "data", "d", "", "Request body")
	flags.StringVar(&f.form, "form", "", `URL encoded form body "a=1&b=2"`)
	flags.StringArrayVarP(&f.multipart, "multipart", "F", nil, `Multipart field "name=value" or file "name=@path" (repeatable)`)
	flags.StringVarP(&f.user, "user", "u", "", `Credential "user:password" used to answer Basic and Digest challenges`)
	flags.StringVar(&f.bearer, "bearer", getEnvString("COURIER_BEARER", ""), "Bearer token (env: COURIER_BEARER)")
	flags.StringVar(&f.oauth2, "oauth2", getEnvString("COURIER_OAUTH2", ""), `OAuth2 "grant tokenUrl clientId clientSecret [...]" (env: COURIER_OAUTH2)`)
	flags.StringVar(&f.aws, "aws", getEnvString("COURIER_AWS", ""), `AWS SigV4 "accessKey:secretKey:region:service" (env: COURIER_AWS)`)

	flags.StringVarP(&f.file, "file", "f", "", "YAML request template")
	flags.StringVar(&f.fromCurl, "from-curl", "", "Build the request from a curl command line")
	flags.StringArrayVar(&f.vars, "var", nil, `Template variable "name=value" (repeatable)`)
	flags.StringVar(&f.envFile, "env-file", getEnvString("COURIER_ENV_FILE", ""), "Load template variables from a .env file (env: COURIER_ENV_FILE)")

	flags.DurationVar(&f.timeout, "timeout", 0, "Request timeout (e.g., 30s, 1m)")
	flags.IntVar(&f.retries, "retries", getEnvInt("COURIER_RETRIES", 0), "Retry failed requests up to this many times (env: COURIER_RETRIES)")
	flags.BoolVarP(&f.insecure, "insecure", "k", getEnvBool("COURIER_INSECURE", false), "Disable SSL certificate validation (env: COURIER_INSECURE)")
	flags.StringVar(&f.proxy, "proxy", getEnvString("COURIER_PROXY", ""), "Proxy URL for HTTP requests (env: COURIER_PROXY)")
	flags.IntVar(&f.maxRedirects, "max-redirects", 0, "Maximum redirects to follow")
	flags.BoolVar(&f.noFollow, "no-follow", false, "Do not follow redirects")
}

// apply overrides cfg with the flags that were given.
func (f *requestFlags) apply(cfg *config.Config) error {
	if f.timeout > 0 {
		cfg.Timeout = int(f.timeout.Milliseconds())
	}
	if f.retries > 0 {
		cfg.Retries = f.retries
	}
	if f.insecure {
		cfg.ValidateSSL = config.BoolPtr(false)
	}
	if f.proxy != "" {
		cfg.Proxy = f.proxy
	}
	if f.maxRedirects > 0 {
		cfg.MaxRedirects = f.maxRedirects
	}
	if f.noFollow {
		cfg.FollowRedirects = config.BoolPtr(false)
	}
	if f.fromCurl != "" {
		parsed, err := curl.Parse(f.fromCurl)
		if err != nil {
			return withExitCode(ExitUsageError, err)
		}
		if parsed.Insecure {
			cfg.ValidateSSL = config.BoolPtr(false)
		}
		if parsed.FollowRedirects {
			cfg.FollowRedirects = config.BoolPtr(true)
		}
	}
	if err := cfg.Validate(); err != nil {
		return withExitCode(ExitConfigError, err)
	}
	return nil
}

func (f *requestFlags) clientOptions() (clientOptions, error) {
	var opts clientOptions
	if f.oauth2 != "" {
		cfg, err := parseOAuth2(f.oauth2)
		if err != nil {
			return opts, err
		}
		opts.oauth2 = cfg
	}
	if f.aws != "" {
		signer, err := parseAWS(f.aws)
		if err != nil {
			return opts, withExitCode(ExitUsageError, err)
		}
		opts.aws = signer
	}
	return opts, nil
}

// resolver collects template variables from the env file and --var.
func (f *requestFlags) resolver(logger *slog.Logger) (*env.Resolver, error) {
	r := env.NewResolver().WithLogger(logger)
	if f.envFile != "" {
		vars, err := env.LoadDotEnv(f.envFile)
		if err != nil {
			return nil, withExitCode(ExitConfigError, err)
		}
		r.SetAll(vars)
	}
	if err := r.ParseAssignments(f.vars); err != nil {
		return nil, withExitCode(ExitUsageError, err)
	}
	return r, nil
}

// build produces the request from a template file, a curl command or the
// URL argument, then layers the header and auth flags on top.
func (f *requestFlags) build(args []string, r *env.Resolver) (*template.Built, error) {
	var built *template.Built
	switch {
	case f.file != "":
		tmpl, err := template.Load(f.file)
		if err != nil {
			return nil, withExitCode(ExitUsageError, err)
		}
		if built, err = tmpl.Build(r, filepath.Dir(f.file)); err != nil {
			return nil, withExitCode(ExitUsageError, err)
		}
	case f.fromCurl != "":
		parsed, err := curl.Parse(r.Resolve(f.fromCurl))
		if err != nil {
			return nil, withExitCode(ExitUsageError, err)
		}
		built = &template.Built{Request: parsed.Request, User: parsed.User, Password: parsed.Password}
	case len(args) > 0:
		tmpl, err := f.template(args[0])
		if err != nil {
			return nil, withExitCode(ExitUsageError, err)
		}
		if built, err = tmpl.Build(r, ""); err != nil {
			return nil, withExitCode(ExitUsageError, err)
		}
	default:
		return nil, withExitCode(ExitUsageError, fmt.Errorf("a URL, --file or --from-curl is required"))
	}

	if f.method != "" {
		built.Request.Method = strings.ToUpper(f.method)
	}
	for _, h := range f.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, withExitCode(ExitUsageError, fmt.Errorf("invalid header %q, expected \"Name: value\"", h))
		}
		built.Request.SetHeader(strings.TrimSpace(name), r.Resolve(strings.TrimSpace(value)))
	}
	if f.user != "" {
		built.User, built.Password, _ = strings.Cut(r.Resolve(f.user), ":")
	}
	if f.bearer != "" {
		built.Request.SetBearerToken(r.Resolve(f.bearer))
	}
	return built, nil
}

// template describes the request given on the command line.
func (f *requestFlags) template(rawURL string) (*template.Template, error) {
	tmpl := &template.Template{Method: f.method, URL: rawURL, Body: f.data}
	if f.form != "" {
		tmpl.Form = courierhttp.ParseFormBody(f.form)
	}
	if len(f.multipart) > 0 {
		tmpl.Multipart = &template.Multipart{Fields: map[string]string{}, Files: map[string]string{}}
		for _, field := range f.multipart {
			name, value, ok := strings.Cut(field, "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("invalid multipart field %q, expected name=value or name=@path", field)
			}
			if path, isFile := strings.CutPrefix(value, "@"); isFile {
				tmpl.Multipart.Files[name] = path
			} else {
				tmpl.Multipart.Fields[name] = value
			}
		}
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return tmpl, nil
}
