package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storepay/internal/config"
)

type ErrorKind string

const (
	KindInvalidCredential  ErrorKind = "invalid_credential"
	KindProviderBusy       ErrorKind = "provider_busy"
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	KindProviderError      ErrorKind = "provider_error"
)

// ApiError classifies a provider failure at the client boundary, so callers
// never inspect HTTP details themselves.
type ApiError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *ApiError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure is transient; a credential failure
// is fatal and must stop polling immediately.
func (e *ApiError) Retryable() bool {
	return e.Kind == KindProviderBusy || e.Kind == KindNetworkUnavailable
}

type TransactionStatus string

const (
	StatusPaid   TransactionStatus = "Paid"
	StatusUnpaid TransactionStatus = "Unpaid"
)

// envelope is the provider response wrapper; responseCode 0 means success.
type envelope struct {
	ResponseCode int             `json:"responseCode"`
	Message      string          `json:"message,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// CallbackMeta identifies the application a generated deep link returns to.
type CallbackMeta struct {
	AppName     string `json:"appName"`
	AppIconUrl  string `json:"appIconUrl"`
	CallbackUrl string `json:"appDeepLinkCallback"`
}

// Client wraps the settlement provider REST API. It is built once with its
// credential and base URL and shared by everyone issuing requests.
type Client struct {
	client           *http.Client
	apiUrl           string
	token            string
	statusEndpoint   string
	bulkEndpoint     string
	deeplinkEndpoint string
}

func NewClient(conf *config.Config) *Client {
	return &Client{
		client:           &http.Client{Timeout: 10 * time.Second},
		apiUrl:           conf.Provider.ApiUrl,
		token:            conf.Provider.ApiToken,
		statusEndpoint:   conf.Provider.StatusEndpoint,
		bulkEndpoint:     conf.Provider.BulkEndpoint,
		deeplinkEndpoint: conf.Provider.DeeplinkEndpoint,
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}) (*envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%v%v", c.apiUrl, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ApiError{Kind: KindNetworkUnavailable, Message: err.Error()}
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &ApiError{Kind: KindInvalidCredential, StatusCode: resp.StatusCode, Message: "bearer token rejected"}
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &ApiError{Kind: KindProviderBusy, StatusCode: resp.StatusCode, Message: "provider busy"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		message, _ := io.ReadAll(resp.Body)
		return nil, &ApiError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: string(message)}
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ApiError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	var env envelope
	if err = json.Unmarshal(body, &env); err != nil {
		return nil, &ApiError{Kind: KindProviderError, StatusCode: resp.StatusCode, Message: err.Error()}
	}
	return &env, nil
}

// CheckStatus asks whether the transaction behind a fingerprint has settled.
// The provider has no hard "failed" state: anything but success reads as
// not paid yet.
func (c *Client) CheckStatus(ctx context.Context, fingerprint string) (TransactionStatus, error) {
	request := struct {
		Md5 string `json:"md5"`
	}{Md5: fingerprint}

	env, err := c.post(ctx, c.statusEndpoint, request)
	if err != nil {
		return StatusUnpaid, err
	}
	if env.ResponseCode == 0 {
		return StatusPaid, nil
	}
	return StatusUnpaid, nil
}

// CheckBulk returns the subset of fingerprints confirmed paid.
func (c *Client) CheckBulk(ctx context.Context, fingerprints []string) ([]string, error) {
	env, err := c.post(ctx, c.bulkEndpoint, fingerprints)
	if err != nil {
		return nil, err
	}
	if env.ResponseCode != 0 || len(env.Data) == 0 {
		return nil, nil
	}
	var entries []struct {
		Md5 string `json:"md5"`
	}
	if err = json.Unmarshal(env.Data, &entries); err != nil {
		return nil, &ApiError{Kind: KindProviderError, Message: err.Error()}
	}
	paid := make([]string, 0, len(entries))
	for _, entry := range entries {
		paid = append(paid, entry.Md5)
	}
	return paid, nil
}

// CreateDeepLink generates a payer-app link for the payload. A non-zero
// provider response code yields an empty link, not an error.
func (c *Client) CreateDeepLink(ctx context.Context, payload string, callback CallbackMeta) (string, error) {
	request := struct {
		Qr         string       `json:"qr"`
		SourceInfo CallbackMeta `json:"sourceInfo"`
	}{Qr: payload, SourceInfo: callback}

	env, err := c.post(ctx, c.deeplinkEndpoint, request)
	if err != nil {
		return "", err
	}
	if env.ResponseCode != 0 {
		return "", nil
	}
	var data struct {
		ShortLink string `json:"shortLink"`
	}
	if err = json.Unmarshal(env.Data, &data); err != nil {
		return "", &ApiError{Kind: KindProviderError, Message: err.Error()}
	}
	return data.ShortLink, nil
}
