package origin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var ErrRejected = errors.New("registration rejected")

type membershipResponse struct {
	Message        string   `json:"message"`
	CurrentNumbers []string `json:"current_numbers"`
	Error          string   `json:"error"`
	Status         string   `json:"status"`
}

// NewClient returns an HTTP client that retries connection failures and 5xx
// replies, so an origin may start before its balancer.
func NewClient(logger *slog.Logger, retryMax int, waitMax time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = logger
	client.RetryMax = retryMax
	client.RetryWaitMin = 50 * time.Millisecond
	if waitMax > 0 {
		client.RetryWaitMax = waitMax
		client.RetryWaitMin = min(client.RetryWaitMin, waitMax)
	}
	return client
}

// Register announces self to the balancer at balancerURL and returns the
// membership it reports.
func Register(ctx context.Context, client *retryablehttp.Client, balancerURL, self string) ([]string, error) {
	target := strings.TrimSuffix(balancerURL, "/") + "/port"

	req, err := retryablehttp.NewRequest(http.MethodPut, target, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("origin", self)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", self, err)
	}
	defer resp.Body.Close()

	var body membershipResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("register %s: decode response: %w", self, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: %s (%d)", ErrRejected, self, body.Error, resp.StatusCode)
	}

	return body.CurrentNumbers, nil
}
