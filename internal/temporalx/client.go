package temporalx

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/gridforge/gridforge/internal/gridcfg"
	"github.com/gridforge/gridforge/internal/gridlog"
)

// NewClient dials the Temporal cluster named by Config. A blank
// TEMPORAL_ADDRESS is not an error: it means the host runs the bare
// Engine.Progress poll loop instead of the workflow-driven one (§4.14), so
// NewClient returns (nil, nil) and lets the caller branch on that.
func NewClient(log *gridlog.Logger) (temporalsdkclient.Client, error) {
	cfg := LoadConfig()
	if cfg.Address == "" {
		if log != nil {
			log.Warn("temporalx: TEMPORAL_ADDRESS not set, Temporal disabled")
		}
		return nil, nil
	}

	opts := temporalsdkclient.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    log,
	}
	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" || cfg.ClientCAPath != "" {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.ConnectionOptions.TLS = tlsCfg
	}

	dialTimeout := gridcfg.EnvDuration("TEMPORAL_DIAL_TIMEOUT", 5*time.Second)
	maxWait := gridcfg.EnvDuration("TEMPORAL_DIAL_MAX_WAIT", 60*time.Second)
	backoff := gridcfg.EnvDuration("TEMPORAL_DIAL_BACKOFF", 250*time.Millisecond)
	backoffMax := gridcfg.EnvDuration("TEMPORAL_DIAL_BACKOFF_MAX", 5*time.Second)

	deadline := time.Now().Add(maxWait)
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		c, err := temporalsdkclient.DialContext(ctx, opts)
		cancel()
		if err == nil {
			if log != nil && attempt > 1 {
				log.Info("temporalx: connected", "address", cfg.Address, "namespace", cfg.Namespace, "attempts", attempt)
			}
			if gridcfg.EnvBool("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
				if err := EnsureNamespace(context.Background(), c, cfg.Namespace, log); err != nil {
					c.Close()
					return nil, err
				}
			}
			return c, nil
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("temporalx: dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
		}
		if log != nil {
			log.Warn("temporalx: not reachable, retrying", "address", cfg.Address, "attempt", attempt, "err", err)
		}
		if sleep := clampBackoff(backoff, backoffMax, attempt); sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// EnsureNamespace is a local/self-hosted convenience: it creates the
// configured namespace if TEMPORAL_AUTO_REGISTER_NAMESPACE is set. Temporal
// Cloud namespaces should be pre-provisioned and this left off.
func EnsureNamespace(ctx context.Context, c temporalsdkclient.Client, namespace string, log *gridlog.Logger) error {
	if c == nil || namespace == "" {
		return nil
	}
	cfg := LoadConfig()
	if cfg.Address == "" {
		return nil
	}

	maxWait := gridcfg.EnvDuration("TEMPORAL_NAMESPACE_ENSURE_TIMEOUT", 10*time.Second)
	baseCtx := ctx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(baseCtx, maxWait)
	defer cancel()

	nsClientOpts := temporalsdkclient.Options{HostPort: cfg.Address, Logger: log}
	if cfg.ClientCertPath != "" || cfg.ClientKeyPath != "" || cfg.ClientCAPath != "" {
		tlsCfg, err := loadTLSConfig(cfg)
		if err != nil {
			return err
		}
		nsClientOpts.ConnectionOptions.TLS = tlsCfg
	}
	nsClient, err := temporalsdkclient.NewNamespaceClient(nsClientOpts)
	if err != nil {
		return fmt.Errorf("temporalx: init namespace client: %w", err)
	}
	defer nsClient.Close()

	backoff := gridcfg.EnvDuration("TEMPORAL_NAMESPACE_ENSURE_BACKOFF", 250*time.Millisecond)
	backoffMax := gridcfg.EnvDuration("TEMPORAL_NAMESPACE_ENSURE_BACKOFF_MAX", 5*time.Second)
	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("temporalx: namespace ensure timed out (namespace=%s): %w", namespace, ctx.Err())
		}
		if _, err := nsClient.Describe(ctx, namespace); err == nil {
			return nil
		} else {
			var nfe *serviceerror.NamespaceNotFound
			if errors.As(err, &nfe) {
				retentionDays := gridcfg.EnvInt("TEMPORAL_NAMESPACE_RETENTION_DAYS", 7)
				if retentionDays < 1 {
					retentionDays = 1
				}
				if retentionDays > 365 {
					retentionDays = 365
				}
				regErr := nsClient.Register(ctx, &workflowservice.RegisterNamespaceRequest{
					Namespace:                        namespace,
					Description:                      "gridforge auto-registered namespace",
					WorkflowExecutionRetentionPeriod: durationpb.New(time.Duration(retentionDays) * 24 * time.Hour),
				})
				if regErr == nil {
					if log != nil {
						log.Info("temporalx: registered namespace", "namespace", namespace, "retention_days", retentionDays)
					}
					return nil
				}
				var already *serviceerror.NamespaceAlreadyExists
				if errors.As(regErr, &already) {
					return nil
				}
				if isRetryableRPC(regErr) && time.Now().Before(deadline) {
					time.Sleep(clampBackoff(backoff, backoffMax, attempt))
					continue
				}
				return fmt.Errorf("temporalx: register namespace: %w", regErr)
			}
			if isRetryableRPC(err) && time.Now().Before(deadline) {
				time.Sleep(clampBackoff(backoff, backoffMax, attempt))
				continue
			}
			return fmt.Errorf("temporalx: describe namespace: %w", err)
		}
	}
}

func loadTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.ClientCertPath == "" || cfg.ClientKeyPath == "" {
		return nil, fmt.Errorf("temporalx: both TEMPORAL_CLIENT_CERT_PATH and TEMPORAL_CLIENT_KEY_PATH are required for mTLS")
	}
	cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, cfg.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("temporalx: load client cert/key: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("temporalx: read CA: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("temporalx: invalid CA pem")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}

func isRetryableRPC(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
