// Package discovery resolves the peer-sync target list dynamically from
// Kubernetes instead of a static config list, for shards that scale
// their replica count without a redeploy. Grounded on the clientset
// wrapper shape of internal/infrastructure/k8s/client.go: a narrow
// interface over client-go, constructed with in-cluster config,
// health-checked at startup, retried with backoff on transient errors.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
)

// Source resolves the current set of peer addresses.
type Source interface {
	Peers(ctx context.Context) ([]string, error)
}

// Config configures Kubernetes-based peer discovery.
type Config struct {
	Namespace     string
	ServiceName   string
	LabelSelector string
	Port          int
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// K8sSource discovers peers from the ready addresses of a Service's
// Endpoints, excluding selfAddr so a shard never targets itself.
type K8sSource struct {
	clientset kubernetes.Interface
	cfg       Config
	selfAddr  string
	logger    *slog.Logger
}

// NewK8sSource builds a K8sSource using in-cluster configuration.
func NewK8sSource(cfg Config, selfAddr string, logger *slog.Logger) (*K8sSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	restCfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("load in-cluster config: %w", err)
	}
	restCfg.Timeout = cfg.Timeout

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build k8s clientset: %w", err)
	}

	return &K8sSource{clientset: clientset, cfg: cfg, selfAddr: selfAddr, logger: logger}, nil
}

// NewK8sSourceFromClientset builds a K8sSource over an existing
// clientset (e.g. a fake.NewSimpleClientset() in tests).
func NewK8sSourceFromClientset(clientset kubernetes.Interface, cfg Config, selfAddr string, logger *slog.Logger) *K8sSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &K8sSource{clientset: clientset, cfg: cfg, selfAddr: selfAddr, logger: logger}
}

// Peers returns the HTTP base URLs of every ready pod backing the
// configured Service, excluding this shard's own address.
func (s *K8sSource) Peers(ctx context.Context) ([]string, error) {
	var eps *corev1.Endpoints
	err := s.retryWithBackoff(ctx, func() error {
		e, err := s.clientset.CoreV1().Endpoints(s.cfg.Namespace).Get(ctx, s.cfg.ServiceName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		eps = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get endpoints %s/%s: %w", s.cfg.Namespace, s.cfg.ServiceName, err)
	}

	port := s.cfg.Port
	var peers []string
	for _, subset := range eps.Subsets {
		if port == 0 && len(subset.Ports) > 0 {
			port = int(subset.Ports[0].Port)
		}
		for _, addr := range subset.Addresses {
			base := fmt.Sprintf("http://%s:%d", addr.IP, port)
			if base == s.selfAddr {
				continue
			}
			peers = append(peers, base)
		}
	}

	s.logger.Debug("discovered peers", "service", s.cfg.ServiceName, "count", len(peers))
	return peers, nil
}

func (s *K8sSource) retryWithBackoff(ctx context.Context, op func() error) error {
	backoff := s.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return lastErr
}

// StaticSource is a fixed peer list, used when discovery is disabled.
type StaticSource struct {
	Addrs []string
}

func (s StaticSource) Peers(ctx context.Context) ([]string, error) { return s.Addrs, nil }
