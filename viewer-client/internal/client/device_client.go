package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Errors
var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrForbidden      = errors.New("device not accessible with this token")
	ErrNoHostname     = errors.New("device has no hostname")
)

// DeviceClient looks devices up in the relay HTTP API.
type DeviceClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      map[string]*cachedDevice
	cacheTTL   time.Duration
	mu         sync.RWMutex
}

type cachedDevice struct {
	device    *Device
	expiresAt time.Time
}

// Device is a roster entry with its live state.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Hostname   string `json:"hostname"`
	LabID      string `json:"lab_id,omitempty"`
	Online     bool   `json:"online"`
	InstanceID string `json:"instance_id,omitempty"`
	Viewers    int    `json:"viewers"`
}

// DeviceResponse represents the API response wrapper.
type DeviceResponse struct {
	Success bool    `json:"success"`
	Data    *Device `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewDeviceClient creates a client for the relay API at baseURL. token is
// sent as a bearer token.
func NewDeviceClient(baseURL, token string, cacheTTL, timeout time.Duration) *DeviceClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DeviceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:    make(map[string]*cachedDevice),
		cacheTTL: cacheTTL,
	}
}

// GetDevice retrieves a device by ID.
func (c *DeviceClient) GetDevice(ctx context.Context, deviceID string) (*Device, error) {
	// Check cache first
	if device := c.getFromCache(deviceID); device != nil {
		return device, nil
	}

	u := fmt.Sprintf("%s/api/v1/devices/%s", c.baseURL, url.PathEscape(deviceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch device: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrDeviceNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrForbidden
	default:
		return nil, fmt.Errorf("relay returned status: %d", resp.StatusCode)
	}

	var deviceResp DeviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&deviceResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !deviceResp.Success || deviceResp.Data == nil {
		msg := "empty response"
		if deviceResp.Error != nil {
			msg = deviceResp.Error.Message
		}
		return nil, fmt.Errorf("relay error: %s", msg)
	}

	c.addToCache(deviceID, deviceResp.Data)
	return deviceResp.Data, nil
}

// ResolveEndpoint substitutes placeholder in template with the device's
// hostname. Templates without the placeholder are returned unchanged.
func (c *DeviceClient) ResolveEndpoint(ctx context.Context, template, placeholder, deviceID string) (string, error) {
	if !strings.Contains(template, placeholder) {
		return template, nil
	}
	device, err := c.GetDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	if device.Hostname == "" {
		return "", fmt.Errorf("%w: %s", ErrNoHostname, deviceID)
	}
	return strings.ReplaceAll(template, placeholder, device.Hostname), nil
}

// InvalidateCache removes a device from the cache.
func (c *DeviceClient) InvalidateCache(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, deviceID)
}

func (c *DeviceClient) getFromCache(deviceID string) *Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.cache[deviceID]; ok {
		if time.Now().Before(cached.expiresAt) {
			return cached.device
		}
	}
	return nil
}

func (c *DeviceClient) addToCache(deviceID string, device *Device) {
	if c.cacheTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[deviceID] = &cachedDevice{
		device:    device,
		expiresAt: time.Now().Add(c.cacheTTL),
	}
}
