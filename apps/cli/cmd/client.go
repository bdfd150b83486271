package cmd

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	cookiejar "github.com/juju/persistent-cookiejar"

	"github.com/abdul-hamid-achik/courier/packages/auth/oauth2"
	"github.com/abdul-hamid-achik/courier/packages/core/config"
	"github.com/abdul-hamid-achik/courier/packages/core/logging"
	"github.com/abdul-hamid-achik/courier/packages/db"
	"github.com/abdul-hamid-achik/courier/packages/engine"
	courierhttp "github.com/abdul-hamid-achik/courier/packages/http"
	"github.com/abdul-hamid-achik/courier/packages/metrics"
	"github.com/abdul-hamid-achik/courier/packages/retry"
	"github.com/abdul-hamid-achik/courier/packages/session"
)

// client is a session wired from configuration together with the
// resources it owns.
type client struct {
	session     *session.Session
	recorder    *metrics.Recorder
	credentials *db.CredentialStore
	jar         *cookiejar.Jar
	logger      *slog.Logger
	// validate makes non-2xx responses failures so the retrier sees them
	validate bool
}

type clientOptions struct {
	oauth2 *oauth2.Config
	aws    *courierhttp.AWSSigner
}

// defaultCredentialsDB is used when the config names no store.
func defaultCredentialsDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "courier", "credentials.db")
}

func newClient(cfg *config.Config, opts clientOptions) (*client, error) {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	c := &client{
		logger:   logger,
		recorder: metrics.NewRecorder(),
		validate: cfg.Retries > 0 || opts.oauth2 != nil,
	}

	engineOpts := []courierhttp.Option{
		courierhttp.WithTimeout(cfg.TimeoutDuration()),
		courierhttp.WithFollowRedirects(cfg.GetFollowRedirects()),
		courierhttp.WithMaxRedirects(cfg.MaxRedirects),
		courierhttp.WithValidateSSL(cfg.GetValidateSSL()),
		courierhttp.WithDefaultHeaders(cfg.Headers),
	}
	if cfg.Proxy != "" {
		engineOpts = append(engineOpts, courierhttp.WithProxy(cfg.Proxy))
	}
	if cfg.CookieFile != "" {
		jar, err := cookiejar.New(&cookiejar.Options{Filename: cfg.CookieFile})
		if err != nil {
			return nil, withExitCode(ExitConfigError, fmt.Errorf("failed to open cookie file: %w", err))
		}
		c.jar = jar
		engineOpts = append(engineOpts, courierhttp.WithCookieJar(jar))
	}

	sessionOpts := []session.Option{
		session.WithEngine(func(events engine.Events) engine.Engine {
			return courierhttp.New(events, engineOpts...)
		}),
		session.WithLogger(logger),
		session.WithObserver(session.LogObserver{Logger: logger}),
		session.WithObserver(c.recorder),
		session.WithStartRequestsImmediately(false),
	}

	storePath := cfg.CredentialsDB
	if storePath == "" {
		if p := defaultCredentialsDB(); p != "" {
			if _, err := os.Stat(p); err == nil {
				storePath = p
			}
		}
	}
	if storePath != "" {
		store, err := db.Open(storePath)
		if err != nil {
			return nil, withExitCode(ExitConfigError, err)
		}
		c.credentials = store
		sessionOpts = append(sessionOpts, session.WithCredentialStorage(store))
	}

	policy := retry.NewPolicy(cfg.Retries, cfg.RetryDelayDuration(), retry.Backoff(cfg.RetryBackoff))
	if len(cfg.RetryOn) > 0 {
		policy.Statuses = cfg.RetryOn
	}
	policy.Logger = logger
	if cfg.RetryRate > 0 {
		policy.Budget = retry.NewBudget(cfg.RetryRate, cfg.RetryBurst, cfg.TimeoutDuration())
	}

	var retrier session.Retrier = policy
	var adapters []session.Adapter
	if opts.oauth2 != nil {
		provider := oauth2.NewProvider(opts.oauth2).WithHTTPClient(tokenClient(cfg))
		handler := oauth2.NewHandler(provider)
		handler.Next = policy
		handler.Logger = logger
		adapters = append(adapters, handler)
		retrier = handler
	}
	if opts.aws != nil {
		// signing goes last so it covers every header set before it
		adapters = append(adapters, opts.aws)
	}
	if len(adapters) > 0 {
		sessionOpts = append(sessionOpts, session.WithAdapter(session.Chain(adapters...)))
	}
	sessionOpts = append(sessionOpts, session.WithRetrier(retrier))

	c.session = session.New(sessionOpts...)
	return c, nil
}

func (c *client) validates() bool {
	return c.validate
}

// Close persists cookies and releases the credential store.
func (c *client) Close() error {
	c.recorder.Stop()
	var errs []error
	if c.jar != nil {
		if err := c.jar.Save(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save cookies: %w", err))
		}
	}
	if c.credentials != nil {
		errs = append(errs, c.credentials.Close())
	}
	return errors.Join(errs...)
}

// parseAWS reads accessKey:secretKey:region:service.
func parseAWS(value string) (*courierhttp.AWSSigner, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("--aws expects accessKey:secretKey:region:service")
	}
	return &courierhttp.AWSSigner{
		AccessKey: parts[0],
		SecretKey: parts[1],
		Region:    parts[2],
		Service:   parts[3],
	}, nil
}

// tokenClient reaches the token endpoint with the same timeout, proxy and
// certificate checks as the session.
func tokenClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.GetValidateSSL() {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Timeout: cfg.TimeoutDuration(), Transport: transport}
}

// parseOAuth2 reads the space separated --oauth2 value.
func parseOAuth2(value string) (*oauth2.Config, error) {
	cfg, err := oauth2.ParseAuthAnnotation(strings.Fields(value))
	if err != nil {
		return nil, withExitCode(ExitUsageError, err)
	}
	return cfg, nil
}
