package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-retryablehttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type httpOptions struct {
	BaseURL      string `validate:"omitempty,url"`
	Headers      map[string]string
	HTTPClient   *http.Client        `validate:"-"`
	RetryMax     int                 `validate:"gte=0"`
	RetryWaitMin time.Duration       `validate:"gte=0"`
	RetryWaitMax time.Duration       `validate:"gtefield=RetryWaitMin"`
	Breaker      *gobreaker.Settings `validate:"-"`
	RateLimit    rate.Limit          `validate:"gte=0"`
	RateBurst    int                 `validate:"gte=0"`
	Logger       *zap.Logger         `validate:"-"`
}

type HTTPOption func(*httpOptions)

// WithBaseURL sets the base URL of requests that carry none.
func WithBaseURL(baseURL string) HTTPOption {
	return func(o *httpOptions) {
		o.BaseURL = baseURL
	}
}

// WithHeaders sets headers sent with every request. Request headers win.
func WithHeaders(headers map[string]string) HTTPOption {
	return func(o *httpOptions) {
		o.Headers = lo.Assign(o.Headers, headers)
	}
}

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(o *httpOptions) {
		o.HTTPClient = client
	}
}

// WithRetry configures the retry policy for connection errors and 5xx
// responses.
func WithRetry(max int, waitMin, waitMax time.Duration) HTTPOption {
	return func(o *httpOptions) {
		o.RetryMax = max
		o.RetryWaitMin = waitMin
		o.RetryWaitMax = waitMax
	}
}

// WithCircuitBreaker guards requests with a circuit breaker. Responses with a
// status below 500 do not count as failures unless settings say otherwise.
func WithCircuitBreaker(settings gobreaker.Settings) HTTPOption {
	return func(o *httpOptions) {
		o.Breaker = &settings
	}
}

// WithRateLimit limits requests to limit per second with the given burst.
func WithRateLimit(limit rate.Limit, burst int) HTTPOption {
	return func(o *httpOptions) {
		o.RateLimit = limit
		o.RateBurst = burst
	}
}

func WithLogger(logger *zap.Logger) HTTPOption {
	return func(o *httpOptions) {
		o.Logger = logger
	}
}

// HTTPTransporter dispatches requests over HTTP with JSON bodies. Requests
// with Blob set send map data containing a File as multipart and return the
// raw response body.
type HTTPTransporter struct {
	client  *retryablehttp.Client
	baseURL string
	headers map[string]string
	breaker *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	logger  *zap.Logger
}

var _ Transporter = (*HTTPTransporter)(nil)

func NewHTTPTransporter(opts ...HTTPOption) (*HTTPTransporter, error) {
	o := &httpOptions{
		RetryMax:     3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := validator.New().Struct(o); err != nil {
		return nil, errors.Wrap(err, "invalid http transporter options")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = o.RetryMax
	client.RetryWaitMin = o.RetryWaitMin
	client.RetryWaitMax = o.RetryWaitMax
	client.ErrorHandler = func(resp *http.Response, err error, attempts int) (*http.Response, error) {
		if resp != nil {
			return resp, nil
		}
		return nil, errors.Wrapf(err, "giving up after %d attempt(s)", attempts)
	}
	client.Logger = &leveledLogger{o.Logger.Sugar()}
	if o.HTTPClient != nil {
		client.HTTPClient = o.HTTPClient
	}

	t := &HTTPTransporter{
		client:  client,
		baseURL: o.BaseURL,
		headers: o.Headers,
		logger:  o.Logger,
	}
	if o.Breaker != nil {
		settings := *o.Breaker
		if settings.IsSuccessful == nil {
			settings.IsSuccessful = func(err error) bool {
				var statusErr *StatusError
				return err == nil || (errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError)
			}
		}
		t.breaker = gobreaker.NewCircuitBreaker[any](settings)
	}
	if o.RateLimit > 0 {
		t.limiter = rate.NewLimiter(o.RateLimit, max(o.RateBurst, 1))
	}
	return t, nil
}

func (t *HTTPTransporter) Execute(ctx context.Context, req *Request) (any, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limit")
		}
	}
	if t.breaker == nil {
		return t.do(ctx, req)
	}
	return t.breaker.Execute(func() (any, error) {
		return t.do(ctx, req)
	})
}

func (t *HTTPTransporter) do(ctx context.Context, req *Request) (any, error) {
	target := req
	if target.BaseURL == "" && t.baseURL != "" {
		target = req.Merge(&Request{BaseURL: t.baseURL})
	}
	endpoint := URL(target)
	if query := encodeParams(req.Params); query != "" {
		endpoint += "?" + query
	}
	method := lo.CoalesceOrEmpty(strings.ToUpper(req.Method), http.MethodGet)

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Warn("request failed", zap.String("method", method), zap.String("url", endpoint), zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := &StatusError{StatusCode: resp.StatusCode, Body: raw}
		t.logger.Warn("request failed", zap.String("method", method), zap.String("url", endpoint), zap.Int("status", resp.StatusCode))
		return nil, err
	}

	if req.Blob && !hasFile(req.Data) {
		return raw, nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return decoded, nil
}

func hasFile(data any) bool {
	m, ok := data.(map[string]any)
	if !ok {
		return false
	}
	for _, v := range m {
		switch v.(type) {
		case File, *File:
			return true
		}
	}
	return false
}

func encodeBody(req *Request) (io.Reader, string, error) {
	if lo.IsNil(req.Data) {
		return nil, "", nil
	}
	if req.Blob && hasFile(req.Data) {
		return encodeMultipart(req.Data.(map[string]any))
	}
	data, err := json.Marshal(req.Data)
	if err != nil {
		return nil, "", errors.Wrap(err, "encode request")
	}
	return bytes.NewReader(data), "application/json", nil
}

func encodeMultipart(data map[string]any) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	keys := lo.Keys(data)
	sort.Strings(keys)
	for _, key := range keys {
		var err error
		switch v := data[key].(type) {
		case File:
			err = writeFilePart(w, key, &v)
		case *File:
			err = writeFilePart(w, key, v)
		default:
			err = w.WriteField(key, formValue(v))
		}
		if err != nil {
			return nil, "", errors.Wrapf(err, "write multipart field %s", key)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.Wrap(err, "close multipart")
	}
	return &buf, w.FormDataContentType(), nil
}

func writeFilePart(w *multipart.Writer, field string, f *File) error {
	part, err := w.CreateFormFile(field, lo.CoalesceOrEmpty(f.Name, field))
	if err != nil {
		return err
	}
	_, err = part.Write(f.Data)
	return err
}

func formValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any, []any:
		data, _ := json.Marshal(v)
		return string(data)
	}
	return fmt.Sprint(v)
}

// encodeParams encodes params as a query string. Lists repeat the key with a
// [] suffix and objects are sent as JSON.
func encodeParams(params map[string]any) string {
	values := url.Values{}
	for k, v := range params {
		if lo.IsNil(v) {
			continue
		}
		if list, ok := v.([]any); ok {
			for _, item := range list {
				values.Add(k+"[]", formValue(item))
			}
			continue
		}
		values.Set(k, formValue(v))
	}
	return values.Encode()
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger *zap.SugaredLogger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, keysAndValues...)
}

func (l *leveledLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...any) {
	l.logger.Warnw(msg, keysAndValues...)
}
