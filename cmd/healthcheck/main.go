// Command healthcheck checks a running stampsync from inside its container.
// It exits 0 only when the service reports status "ok" and has a provider
// index loaded, since without one no ledger snapshot can be decoded.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const (
	defaultAddr  = "127.0.0.1:8080"
	checkTimeout = 2 * time.Second
)

type health struct {
	Status       string `json:"status"`
	IndexVersion string `json:"index_version"`
}

func main() {
	url := fmt.Sprintf("http://%s/api/v1/health", healthAddr(os.Getenv("STAMPSYNC_LISTEN_ADDR")))

	if err := checkHealth(context.Background(), &http.Client{Timeout: checkTimeout}, url); err != nil {
		fmt.Fprintln(os.Stderr, "unhealthy:", err)
		os.Exit(1)
	}
}

func checkHealth(ctx context.Context, client *http.Client, url string) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var h health
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&h); err != nil {
		return fmt.Errorf("decode health response (HTTP %d): %w", resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode != http.StatusOK || h.Status != "ok":
		return fmt.Errorf("status %q (HTTP %d)", h.Status, resp.StatusCode)
	case h.IndexVersion == "":
		return errors.New("no provider index loaded")
	}
	return nil
}

// healthAddr turns the listen address into one reachable from inside the
// container: a bind-all or empty host becomes loopback.
func healthAddr(listen string) string {
	if listen == "" {
		return defaultAddr
	}

	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return defaultAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
