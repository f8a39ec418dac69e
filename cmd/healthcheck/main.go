// Command healthcheck is the container HEALTHCHECK for the approval server.
// It exits 0 when the health route answers 200 and 1 otherwise.
package main

import (
	"context"
	"net/http"
	"os"
	"time"

	httphandler "github.com/ericfisherdev/staticdeploy/internal/adapter/driving/http"
	"github.com/ericfisherdev/staticdeploy/internal/config"
)

func main() {
	url := httphandler.HealthURL(os.Getenv(config.EnvPrefix + "APPROVAL_LISTEN_ADDR"))
	os.Exit(check(url, &http.Client{Timeout: 2 * time.Second}))
}

func check(url string, client *http.Client) int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 1
	}
	resp, err := client.Do(req)
	if err != nil {
		return 1
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}
