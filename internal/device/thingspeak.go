package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/YetiSight/trackify-adventure/internal/telemetry"
)

// ErrAccessDenied marks an aggregator rejection of the read key.
var ErrAccessDenied = errors.New("aggregator rejected the access key")

// AggregatorClient fetches the latest feed entry of a ThingSpeak channel
// and decodes it through the channel registry.
type AggregatorClient struct {
	baseURL  string
	client   *http.Client
	registry *telemetry.Registry
}

func NewAggregatorClient(baseURL string, registry *telemetry.Registry) *AggregatorClient {
	return &AggregatorClient{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		registry: registry,
	}
}

// FetchLatest performs one latest-record fetch and normalizes the payload
// into a SensorReading using the channel's field mapping, or the default
// mapping when the channel is not registered.
func (c *AggregatorClient) FetchLatest(channelID int, readKey string) (telemetry.SensorReading, error) {
	url := fmt.Sprintf("%s/channels/%d/feeds/last.json?api_key=%s", c.baseURL, channelID, readKey)
	resp, err := c.client.Get(url)
	if err != nil {
		return telemetry.SensorReading{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return telemetry.SensorReading{}, fmt.Errorf("channel %d: %w", channelID, ErrAccessDenied)
	}
	if resp.StatusCode != http.StatusOK {
		return telemetry.SensorReading{}, fmt.Errorf("failed to fetch feed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return telemetry.SensorReading{}, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return telemetry.SensorReading{}, fmt.Errorf("malformed feed response: %w", err)
	}

	return c.registry.Decode(channelID, payload), nil
}

func classifyFetchError(err error) ErrorType {
	if errors.Is(err, ErrAccessDenied) {
		return ErrorForbidden
	}
	return ErrorNetwork
}
