package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Zereker/soupbintcp"
)

const (
	dialTimeout   = 5 * time.Second
	logoutTimeout = 5 * time.Second
)

func connectCmd() *cobra.Command {
	var configPath string
	flags := defaultClientConfig()

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Log in to a server and print received data",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultClientConfig()
			if configPath != "" {
				if err := loadClientConfig(configPath, &cfg); err != nil {
					return err
				}
			}
			applyFlags(cmd, flags, &cfg)
			if err := cfg.validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runClient(ctx, cfg, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "TOML configuration file")
	f.StringVarP(&flags.Addr, "addr", "a", "", "server address (host:port)")
	f.StringVarP(&flags.Username, "user", "u", "", "login username")
	f.StringVarP(&flags.Password, "password", "p", "", "login password")
	f.StringVar(&flags.Session, "session", "", "requested session, blank for the current one")
	f.Uint64Var(&flags.Sequence, "sequence", flags.Sequence, "requested sequence number")
	f.DurationVar(&flags.Heartbeat, "heartbeat", flags.Heartbeat, "heartbeat interval")
	f.DurationVar(&flags.ReadTimeout, "read-timeout", flags.ReadTimeout, "drop the session after this long without data")
	f.StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "log level (debug, info, warn, error)")

	return cmd
}

// applyFlags copies the flags set on the command line over cfg.
func applyFlags(cmd *cobra.Command, flags clientConfig, cfg *clientConfig) {
	changed := cmd.Flags().Changed
	if changed("addr") {
		cfg.Addr = flags.Addr
	}
	if changed("user") {
		cfg.Username = flags.Username
	}
	if changed("password") {
		cfg.Password = flags.Password
	}
	if changed("session") {
		cfg.Session = flags.Session
	}
	if changed("sequence") {
		cfg.Sequence = flags.Sequence
	}
	if changed("heartbeat") {
		cfg.Heartbeat = flags.Heartbeat
	}
	if changed("read-timeout") {
		cfg.ReadTimeout = flags.ReadTimeout
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = flags.MetricsAddr
	}
	if changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
}

func runClient(ctx context.Context, cfg clientConfig, out io.Writer) error {
	logger := newLogger(os.Stderr, cfg.LogLevel)

	registry := prometheus.NewRegistry()
	metrics := soupbintcp.NewMetrics(registry, soupbintcp.MetricsOpts{})
	if cfg.MetricsAddr != "" {
		srv := metricsServer(cfg.MetricsAddr, registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.Addr, err)
	}

	session, err := soupbintcp.NewClient(conn, cfg.Username, cfg.Password,
		soupbintcp.HandlerOption(printer{out: out, logger: logger}),
		soupbintcp.LoggerOption(logger),
		soupbintcp.MetricsOption(metrics),
		soupbintcp.HeartbeatOption(cfg.Heartbeat),
		soupbintcp.ReadTimeoutOption(cfg.ReadTimeout),
		soupbintcp.RequestedSessionOption(cfg.Session),
		soupbintcp.RequestedSequenceOption(cfg.Sequence),
	)
	if err != nil {
		conn.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(context.Background())
	}()

	select {
	case err = <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("logging out", "addr", cfg.Addr)
	if err = session.Logout(); err != nil {
		_ = session.Close()
		return <-errCh
	}

	select {
	case err = <-errCh:
		return err
	case <-time.After(logoutTimeout):
		_ = session.Close()
		<-errCh
		return nil
	}
}

func metricsServer(addr string, registry *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// printer writes received data messages to out, one per line.
type printer struct {
	soupbintcp.NopHandler
	out    io.Writer
	logger soupbintcp.Logger
}

func (p printer) OnSequencedData(s *soupbintcp.Session, m soupbintcp.SequencedData) {
	fmt.Fprintf(p.out, "S %d %q\n", s.LastReceivedSequence(), m.Payload())
}

func (p printer) OnUnsequencedData(_ *soupbintcp.Session, m soupbintcp.UnsequencedData) {
	fmt.Fprintf(p.out, "U %q\n", m.Payload())
}

func (p printer) OnDebug(_ *soupbintcp.Session, m soupbintcp.Debug) {
	p.logger.Debug("debug message", "text", m.Text())
}

func (p printer) OnLoginRejected(_ *soupbintcp.Session, m soupbintcp.LoginRejected) {
	p.logger.Error("login rejected", "reason", m.Reason().String())
}

func (p printer) OnEndOfSession(s *soupbintcp.Session, _ soupbintcp.EndOfSession) {
	p.logger.Info("end of session", "last_sequence", s.LastReceivedSequence())
}
