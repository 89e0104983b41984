// Package main is the entry point for the securehttp binary.
// It sends requests through the secure client and exposes key and host checks.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/polisai/securehttp/internal/governance"
	tlspkg "github.com/polisai/securehttp/internal/tls"
	"github.com/polisai/securehttp/pkg/client"
	"github.com/polisai/securehttp/pkg/config"
	"github.com/polisai/securehttp/pkg/domain"
	"github.com/polisai/securehttp/pkg/envelope"
	"github.com/polisai/securehttp/pkg/logging"
	"github.com/polisai/securehttp/pkg/monitoring"
	"github.com/polisai/securehttp/pkg/security"
	"github.com/polisai/securehttp/pkg/storage"
	"github.com/polisai/securehttp/pkg/telemetry"
)

var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "securehttp",
		Short:         "Encrypted HTTP client with request telemetry",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text)")

	rootCmd.AddCommand(newRequestCmd(), newKeygenCmd(), newSecurityCmd(), newCertCmd())
	return rootCmd
}

// session is the configuration a command runs with.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	level  *slog.LevelVar
	// loader is nil when no --config file was given.
	loader *config.Loader
}

// loadConfig reads the file named by --config, or the defaults plus environment
// overrides when no file is given, then applies the logging flags.
func loadConfig(cmd *cobra.Command) (*session, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg    *config.Config
		loader *config.Loader
		err    error
	)
	if path != "" {
		loader, err = config.NewLoader(path, nil)
		if err != nil {
			return nil, err
		}
		cfg, err = loader.Load()
	} else {
		cfg, err = config.Parse([]byte("{}"))
	}
	if err != nil {
		return nil, err
	}
	applyLogFlags(cmd, cfg)

	logger, level := logging.NewDynamicLogger(cfg.Logging, cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return &session{cfg: cfg, logger: logger, level: level, loader: loader}, nil
}

func applyLogFlags(cmd *cobra.Command, cfg *config.Config) {
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Logging.Format = format
	}
}

// buildTLS returns nil when the file has no tls section so the transports keep
// their defaults.
func buildTLS(cfg *config.Config) (*tls.Config, error) {
	if cfg.TLS.IsZero() {
		return nil, nil
	}
	tlsConfig, err := tlspkg.BuildClient(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("invalid tls configuration: %w", err)
	}
	return tlsConfig, nil
}

func newChecker(cfg *config.Config, probe string, tlsConfig *tls.Config) (*security.EnvironmentChecker, error) {
	var opts []security.CheckerOption
	if tlsConfig != nil {
		opts = append(opts, security.WithTLSProbe(tlsConfig))
	}
	if probe == "" {
		probe = cfg.Security.ProxyProbe
	}
	return security.NewEnvironmentChecker(probe, opts...)
}

type requestFlags struct {
	method     string
	data       string
	headers    []string
	timeout    time.Duration
	crypto     bool
	cryptoKey  string
	legacy     bool
	retries    int
	count      int
	interval   time.Duration
	metrics    string
	enforce    bool
	noMonitors bool
}

func newRequestCmd() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "request <url>",
		Short: "Send one request through the secure client",
		Long: `Send one request through the secure client and print the decoded response.

Relative URLs are resolved against client.base_url from the configuration file.
With --count other than 1 the request is repeated, and edits to the --config file
change the log level and retry settings of the requests still to come.

Example:
  securehttp request -X POST -d '{"name":"demo"}' -H 'X-App: cli' https://api.example.com/items`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, args[0], flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVarP(&flags.data, "data", "d", "", "Request body; JSON documents are sent as-is, anything else as a JSON string")
	f.StringArrayVarP(&flags.headers, "header", "H", nil, "Header in 'Name: value' form (repeatable)")
	f.DurationVar(&flags.timeout, "timeout", 0, "Per-request timeout (overrides client.timeout)")
	f.BoolVar(&flags.crypto, "crypto", false, "Seal the body and open the response with the AES-GCM provider")
	f.StringVar(&flags.cryptoKey, "crypto-key", "", "Envelope key (overrides client.crypto_key)")
	f.BoolVar(&flags.legacy, "legacy", false, "Use the HTTP/1.1 fallback transport")
	f.IntVar(&flags.retries, "retries", -1, "Retry attempts for transient failures (overrides retry.max_retries)")
	f.IntVar(&flags.count, "count", 1, "Number of requests to send; 0 repeats until interrupted")
	f.DurationVar(&flags.interval, "interval", time.Second, "Pause between repeated requests")
	f.StringVar(&flags.metrics, "metrics-addr", "", "Serve telemetry buffer metrics on this address while the command runs")
	f.BoolVar(&flags.enforce, "enforce-security", false, "Refuse to send when the host fails attestation")
	f.BoolVar(&flags.noMonitors, "no-monitoring", false, "Disable request telemetry")

	return cmd
}

func parseHeaders(raw []string) (map[string]string, error) {
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// parseBody decodes data as JSON when possible so the transport does not encode it twice.
func parseBody(data string) any {
	if data == "" {
		return nil
	}
	var body any
	if err := json.Unmarshal([]byte(data), &body); err == nil {
		return body
	}
	return data
}

func applyRequestFlags(cmd *cobra.Command, cfg *config.Config, flags requestFlags) {
	changed := cmd.Flags().Changed
	if changed("crypto") {
		cfg.Client.EnableCrypto = flags.crypto
	}
	if flags.cryptoKey != "" {
		cfg.Client.CryptoKey = flags.cryptoKey
	}
	if changed("legacy") {
		cfg.Client.LegacyTransport = flags.legacy
	}
	if flags.retries >= 0 {
		cfg.Retry.MaxRetries = flags.retries
	}
	if flags.metrics != "" {
		cfg.Metrics.Address = flags.metrics
	}
	if changed("enforce-security") {
		cfg.Security.Enforce = flags.enforce
	}
	if flags.noMonitors {
		cfg.Monitoring.Enabled = false
	}
}

func runRequest(cmd *cobra.Command, target string, flags requestFlags) error {
	ctx := cmd.Context()

	if flags.count < 0 {
		return errors.New("--count must not be negative")
	}
	sess, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg, logger := sess.cfg, sess.logger
	applyRequestFlags(cmd, cfg, flags)
	if cfg.Client.EnableCrypto && cfg.Client.CryptoKey == "" {
		return errors.New("crypto is enabled but no key is configured")
	}

	headers, err := parseHeaders(flags.headers)
	if err != nil {
		return err
	}
	tlsConfig, err := buildTLS(cfg)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Tracing.ProviderConfig(version))
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	metrics := telemetry.NewMetrics()
	stopMetrics := serveMetrics(cfg.Metrics.Address, metrics, logger)

	manager := monitoring.Initialize(cfg.Monitoring,
		monitoring.WithLogger(logger),
		monitoring.WithTelemetryOptions(telemetry.WithMetrics(metrics)),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		monitoring.Dispose(shutdownCtx)
		stopMetrics(shutdownCtx)
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithCryptoProvider(envelope.NewAESGCMProvider()),
		client.WithTracerProvider(otel.GetTracerProvider()),
		client.WithMonitoring(manager),
		client.WithTLSConfig(tlsConfig),
	}
	if cfg.Security.Enforce {
		checker, err := newChecker(cfg, "", tlsConfig)
		if err != nil {
			return fmt.Errorf("invalid security.proxy_probe: %w", err)
		}
		opts = append(opts, client.WithRequestInterceptors(security.Guard(security.NewValidator(checker, logger))))
	}
	c := client.New(cfg.Client, opts...)

	method := strings.ToUpper(flags.method)
	body := parseBody(flags.data)
	send := func(ctx context.Context) (*domain.Response, error) {
		return c.Request(ctx, &domain.RequestConfig{
			URL:     target,
			Method:  method,
			Headers: headers,
			Body:    body,
			Timeout: flags.timeout,
		})
	}
	if cfg.Breaker.Enabled {
		breaker := governance.NewBreaker(cfg.Breaker)
		call := send
		send = func(ctx context.Context) (*domain.Response, error) {
			return breaker.Do(ctx, call)
		}
	}

	var policy atomic.Pointer[governance.RetryPolicy]
	policy.Store(governance.NewRetryPolicy(cfg.Retry))

	if sess.loader != nil && flags.count != 1 {
		err := sess.loader.Watch(func(next *config.Config) {
			applyLogFlags(cmd, next)
			applyRequestFlags(cmd, next, flags)
			sess.level.Set(logging.ParseLevel(next.Logging.Level))
			policy.Store(governance.NewRetryPolicy(next.Retry))
			logger.Info("applied reloaded configuration",
				"log_level", next.Logging.Level,
				"max_retries", next.Retry.MaxRetries)
		})
		if err != nil {
			return fmt.Errorf("failed to watch configuration: %w", err)
		}
		defer sess.loader.Close()
	}

	return repeat(ctx, flags, func(ctx context.Context) error {
		resp, err := policy.Load().Do(ctx, method, send)
		if err != nil {
			if re, ok := domain.AsRequestError(err); ok && re.Envelope().Response != nil {
				if werr := writeResponse(cmd.OutOrStdout(), re.Envelope().Response); werr != nil {
					logger.Warn("failed to print error response", "error", werr)
				}
			}
			return err
		}
		return writeResponse(cmd.OutOrStdout(), resp)
	}, logger)
}

// repeat calls send flags.count times, or until ctx ends when count is 0,
// pausing flags.interval between calls. A single request returns its error
// as-is; repeated runs keep going and report how many failed.
func repeat(ctx context.Context, flags requestFlags, send func(context.Context) error, logger *slog.Logger) error {
	if flags.count == 1 {
		return send(ctx)
	}

	var (
		sent, failed int
		lastErr      error
	)
	for flags.count == 0 || sent < flags.count {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return summarize(sent, failed, lastErr)
			case <-time.After(flags.interval):
			}
		}
		sent++
		if err := send(ctx); err != nil {
			failed++
			lastErr = err
			logger.Warn("request failed", "request", sent, "error", err)
		}
	}
	return summarize(sent, failed, lastErr)
}

func summarize(sent, failed int, lastErr error) error {
	if lastErr == nil {
		return nil
	}
	return fmt.Errorf("%d of %d requests failed: %w", failed, sent, lastErr)
}

type printedResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	DurationMS int64             `json:"durationMs"`
	Body       any               `json:"body"`
}

func writeResponse(w io.Writer, resp *domain.Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(printedResponse{
		Status:     resp.StatusCode,
		StatusText: resp.StatusText,
		Headers:    resp.Headers,
		DurationMS: resp.Duration.Milliseconds(),
		Body:       resp.Body,
	})
}

// serveMetrics starts the Prometheus endpoint when addr is set and returns its
// shutdown function.
func serveMetrics(addr string, metrics *telemetry.Metrics, logger *slog.Logger) func(context.Context) {
	if addr == "" {
		return func(context.Context) {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
}

func newKeygenCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an envelope key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store := storage.NewMemoryKeyStore()
			key, err := storage.GetOrCreateKey(cmd.Context(), store, envelope.GenerateKey)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}

			out := cmd.OutOrStdout()
			if !asJSON {
				_, err = fmt.Fprintln(out, key)
				return err
			}
			return json.NewEncoder(out).Encode(map[string]string{
				"name": storage.DefaultKeyName,
				"key":  key,
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the key with its storage name as JSON")
	return cmd
}

func newSecurityCmd() *cobra.Command {
	securityCmd := &cobra.Command{
		Use:   "security",
		Short: "Host attestation",
	}

	var (
		probe  string
		strict bool
	)
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether this host passes the attestation checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg, logger := sess.cfg, sess.logger
			tlsConfig, err := buildTLS(cfg)
			if err != nil {
				return err
			}
			checker, err := newChecker(cfg, probe, tlsConfig)
			if err != nil {
				return fmt.Errorf("invalid probe URL: %w", err)
			}

			validator := security.NewValidator(checker, logger)
			report := validator.Check(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if strict {
				return validator.ValidateOrError(cmd.Context())
			}
			return nil
		},
	}
	checkCmd.Flags().StringVar(&probe, "probe", "", "URL whose proxy routing is checked")
	checkCmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when the host is not secure")

	securityCmd.AddCommand(checkCmd)
	return securityCmd
}

type certOptions struct {
	commonName string
	dnsNames   []string
	ips        []string
	validFor   time.Duration
	clientCert bool
	outputDir  string
	certFile   string
	keyFile    string
}

type generatedCert struct {
	CertFile string `json:"certFile"`
	KeyFile  string `json:"keyFile"`
	Pin      string `json:"pin"`
}

func newCertCmd() *cobra.Command {
	certCmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificates for local TLS setups",
	}

	var opts certOptions
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a self-signed certificate and print its pin",
		Long: `Generate a self-signed ECDSA certificate and key.

The printed pin is the value tls.pinned_keys expects; the certificate file can be
used as tls.ca_file, or with --client as tls.cert_file and tls.key_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			generated, err := generateCert(opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(generated)
		},
	}

	f := generateCmd.Flags()
	f.StringVar(&opts.commonName, "cn", "localhost", "Common name for the certificate")
	f.StringSliceVar(&opts.dnsNames, "dns", nil, "DNS names (SANs)")
	f.StringSliceVar(&opts.ips, "ips", nil, "IP addresses (SANs)")
	f.DurationVar(&opts.validFor, "valid-for", 365*24*time.Hour, "Certificate validity duration")
	f.BoolVar(&opts.clientCert, "client", false, "Generate a client authentication certificate")
	f.StringVar(&opts.outputDir, "output-dir", ".", "Output directory")
	f.StringVar(&opts.certFile, "cert", "cert.pem", "Certificate file name")
	f.StringVar(&opts.keyFile, "key", "key.pem", "Private key file name")

	certCmd.AddCommand(generateCmd)
	return certCmd
}

func generateCert(opts certOptions) (*generatedCert, error) {
	certOpts := tlspkg.CertificateOptions{
		CommonName:   opts.commonName,
		DNSNames:     opts.dnsNames,
		ValidFor:     opts.validFor,
		IsClientCert: opts.clientCert,
	}
	for _, raw := range opts.ips {
		ip := net.ParseIP(strings.TrimSpace(raw))
		if ip == nil {
			return nil, fmt.Errorf("invalid IP address %q", raw)
		}
		certOpts.IPAddresses = append(certOpts.IPAddresses, ip)
	}

	certPEM, keyPEM, err := tlspkg.GenerateSelfSigned(certOpts)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("generated certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}

	if err := os.MkdirAll(opts.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	certFile := filepath.Join(opts.outputDir, opts.certFile)
	keyFile := filepath.Join(opts.outputDir, opts.keyFile)
	if err := tlspkg.WriteCertificateFiles(certPEM, keyPEM, certFile, keyFile); err != nil {
		return nil, err
	}
	return &generatedCert{CertFile: certFile, KeyFile: keyFile, Pin: tlspkg.Fingerprint(cert)}, nil
}
