package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chancetop/aistream-go/pkg/client"
	"github.com/chancetop/aistream-go/pkg/config"
	"github.com/chancetop/aistream-go/pkg/logging"
	"github.com/chancetop/aistream-go/pkg/observability"
	"github.com/chancetop/aistream-go/pkg/protocol"
	"github.com/chancetop/aistream-go/pkg/transport"
)

const shutdownTimeout = 5 * time.Second

// chatFlagKeys maps chat flags onto configuration keys. A flag overrides the
// file and the environment only when it is set explicitly.
var chatFlagKeys = map[string]string{
	"base-url":       "client.base_url",
	"logger-url":     "client.logger_url",
	"retry-attempts": "client.retry_attempts",
	"accept":         "client.accept_message_types",
	"strict":         "client.strict_message_types",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"metrics-addr":   "metrics.addr",
}

type chatOptions struct {
	path       string
	method     string
	data       string
	params     []string
	headers    []string
	singleShot bool
	stats      bool
	timeout    time.Duration
}

func newChatCmd(a *app) *cobra.Command {
	o := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat [path]",
		Short: "Run one lifecycle and print accepted messages",
		Long: `chat opens an event stream (or sends a single request with --single-shot)
against the configured base URL and prints every accepted message as a JSON
line. It exits when the server sends an end frame, the retry ceiling is
reached, the stream fails permanently, or on interrupt.`,
		Example: `  aistream chat /chat --base-url https://api.example.com -d '{"question":"hello"}'
  aistream chat /reports/:id --single-shot -p id=42 -H Authorization="Bearer abc"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				o.path = args[0]
			}
			return a.runChat(cmd, o)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.method, "method", "X", "", "HTTP method (default GET, or POST when --data is set)")
	f.StringVarP(&o.data, "data", "d", "", "JSON request body")
	f.StringArrayVarP(&o.params, "param", "p", nil, "path parameter name=value filling :name in the path")
	f.StringArrayVarP(&o.headers, "header", "H", nil, "request header name=value")
	f.BoolVar(&o.singleShot, "single-shot", false, "send one plain request instead of opening an event stream")
	f.BoolVar(&o.stats, "stats", false, "print transport signal counters to stderr on exit")
	f.DurationVar(&o.timeout, "timeout", 0, "give up after this long (0 waits for the lifecycle to end)")

	f.String("base-url", "", "API base URL")
	f.String("logger-url", "", "lifecycle log collector URL")
	f.Int("retry-attempts", client.DefaultRetryAttempts, "stream errors tolerated before the connection is closed")
	f.StringSlice("accept", nil, "accepted message types (default agent_response)")
	f.Bool("strict", false, "report frames whose type is not accepted")
	f.String("log-level", "", "log level: debug, info, warn or error")
	f.String("log-format", "", "log format: text or json")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// request builds the lifecycle request from the command line.
func (o *chatOptions) request() (protocol.RequestOptions, error) {
	req := protocol.RequestOptions{
		URL:       o.path,
		Method:    strings.ToUpper(o.method),
		Streaming: protocol.Bool(!o.singleShot),
	}

	if o.data != "" {
		if !json.Valid([]byte(o.data)) {
			return req, fmt.Errorf("--data is not valid JSON")
		}
		req.Data = json.RawMessage(o.data)
		if req.Method == "" {
			req.Method = http.MethodPost
		}
	}

	var err error
	if req.PathParams, err = parseKeyValues("--param", o.params); err != nil {
		return req, err
	}
	if req.Headers, err = parseKeyValues("--header", o.headers); err != nil {
		return req, err
	}
	return req, nil
}

func parseKeyValues(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%s %q: expected name=value", flag, pair)
		}
		out[key] = value
	}
	return out, nil
}

func (a *app) runChat(cmd *cobra.Command, o *chatOptions) error {
	req, err := o.request()
	if err != nil {
		return err
	}

	loader := config.NewLoader(a.configPath)
	for name, key := range chatFlagKeys {
		if err := loader.Viper().BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	file, err := loader.Load()
	if err != nil {
		return err
	}
	if file.Client.BaseURL == "" && !protocol.IsAbsoluteURL(req.URL) {
		return fmt.Errorf("no base URL: use --base-url, client.base_url or %s_CLIENT_BASE_URL", config.EnvPrefix)
	}

	logger, err := file.Logger()
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	opts := []client.Option{client.WithLogger(logger)}
	if logger.GetLevel() == logging.DebugLevel {
		opts = append(opts, client.WithHTTPClient(logging.WrapClient(nil, logger)))
	}
	if o.stats {
		om := transport.NewObservabilityMiddleware(transport.ObservabilityConfig{
			EnableMetrics: true,
			EnableLogging: true,
			Logger:        logger,
		})
		opts = append(opts, client.WithMiddleware(om))
		defer func() {
			fmt.Fprintln(a.stderr, om.GetMetrics())
		}()
	}
	var providers []observability.Shutdowner
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := observability.Shutdown(sctx, providers...); err != nil {
			logger.Warn("observability shutdown failed", logging.ErrorField(err))
		}
	}()

	if file.Metrics.Enabled || cmd.Flags().Changed("metrics-addr") {
		metrics, err := observability.NewMetricsProvider(file.MetricsProviderConfig())
		if err != nil {
			return fmt.Errorf("failed to create metrics provider: %w", err)
		}
		if err := metrics.Start(ctx); err != nil {
			return err
		}
		providers = append(providers, metrics)
		opts = append(opts, client.WithMetrics(metrics))
		logger.Info("serving metrics", logging.String("addr", metrics.Addr()))
	}
	if file.Tracing.Enabled {
		tracer, err := observability.NewTracingProvider(file.TracingProviderConfig())
		if err != nil {
			return fmt.Errorf("failed to create tracing provider: %w", err)
		}
		providers = append(providers, tracer)
		opts = append(opts, client.WithTracing(tracer))
	}

	s := newSession(a.stdout)
	opts = append(opts, s.options()...)
	s.c = client.NewFromConfig(file.ClientConfig(), opts...)
	defer s.c.Destroy()

	s.c.Connect(req)
	return s.wait(ctx)
}

// session prints messages for one lifecycle and tracks its end.
type session struct {
	c    *client.Controller
	mu   sync.Mutex
	enc  *json.Encoder
	done chan struct{}
	once sync.Once
}

func newSession(out io.Writer) *session {
	return &session{
		enc:  json.NewEncoder(out),
		done: make(chan struct{}),
	}
}

func (s *session) options() []client.Option {
	return []client.Option{
		client.WithOnMessage(func(msg *protocol.DataMessage) {
			s.mu.Lock()
			defer s.mu.Unlock()
			_ = s.enc.Encode(msg)
		}),
		client.WithOnError(func(error) {
			if s.c.Settled() {
				s.finish()
			}
		}),
		client.WithOnDisconnect(s.finish),
	}
}

func (s *session) finish() {
	s.once.Do(func() { close(s.done) })
}

// wait blocks until the lifecycle ends or ctx is done, and reports the error
// the lifecycle ended with.
func (s *session) wait(ctx context.Context) error {
	select {
	case <-s.done:
	case <-ctx.Done():
		s.c.Disconnect()
		<-s.done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("timed out waiting for the lifecycle to end")
		}
		return nil
	}

	if e := s.c.State().Error; e != nil {
		return fmt.Errorf("%s: %s", e.Code, e.Message)
	}
	return nil
}
