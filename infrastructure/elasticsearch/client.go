// Package elasticsearch builds a verified go-elasticsearch client.
package elasticsearch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/north-cloud/discovery/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/discovery/infrastructure/retry"
)

// NewClient creates a client and blocks until the cluster answers a ping,
// retrying with exponential backoff per cfg.RetryConfig.
func NewClient(ctx context.Context, cfg Config, log logger.Logger) (*es.Client, error) {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	url := normalizeURL(cfg.URL)
	transport, err := createTransport(cfg.TLS)
	if err != nil {
		return nil, err
	}

	clientConfig := es.Config{
		Addresses:  []string{url},
		Transport:  transport,
		MaxRetries: cfg.MaxRetries,
	}
	switch {
	case cfg.APIKey != "":
		clientConfig.APIKey = cfg.APIKey
	case cfg.Username != "":
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	client, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	log.Info("Verifying Elasticsearch connection", logger.String("url", url))
	if err = retry.Retry(ctx, *cfg.RetryConfig, func() error {
		return Ping(ctx, client, cfg.PingTimeout)
	}); err != nil {
		return nil, fmt.Errorf("connect to elasticsearch: %w", err)
	}
	log.Info("Elasticsearch connection established", logger.String("url", url))

	return client, nil
}

// Ping checks that the cluster responds with a non-error status.
func Ping(ctx context.Context, client *es.Client, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("ping returned [%s]: %s", res.Status(), string(body))
	}
	return nil
}

func normalizeURL(url string) string {
	if url == "" {
		return "http://localhost:9200"
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "http://" + url
	}
	return url
}

func createTransport(cfg *TLSConfig) (*http.Transport, error) {
	transport := &http.Transport{}
	if cfg == nil || !cfg.Enabled {
		return transport, nil
	}

	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} //nolint:gosec // opt-in for dev clusters

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	transport.TLSClientConfig = tlsConfig
	return transport, nil
}
