package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abdul-hamid-achik/aidb-smoke/packages/http"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PayloadKind is the category a response body was decoded into
type PayloadKind int

const (
	// KindRaw is an uninterpreted byte sequence
	KindRaw PayloadKind = iota
	// KindJSON is a decoded structured value
	KindJSON
)

func (k PayloadKind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "raw"
}

// Payload is a successful response body. JSON is set only for KindJSON;
// Body always holds the bytes as received.
type Payload struct {
	Kind        PayloadKind
	ContentType string
	JSON        any
	Body        []byte
}

// StatusError is returned for any non-2xx response
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// TransportError is returned when no response was received at all
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response declares JSON but is not
type DecodeError struct {
	Method string
	Path   string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %s: decoding JSON response: %v", e.Method, e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RequestRecord is one entry of the run's request log
type RequestRecord struct {
	Step       string        `json:"step"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	StatusCode int           `json:"statusCode,omitempty"`
	Duration   time.Duration `json:"durationNs"`
	RequestID  string        `json:"requestId"`
	Error      string        `json:"error,omitempty"`
}

// maxErrorBody bounds how much of a failure body is carried in a StatusError
const maxErrorBody = 2048

// request issues one call against the base URL and decodes the body. It is
// the only place that talks to the network.
func (e *execution) request(ctx context.Context, step, method, path string, body any) (*Payload, error) {
	req := http.NewRequest(method, http.JoinURL(e.r.config.BaseURL, path))
	if body != nil {
		if err := req.SetJSONBody(body); err != nil {
			return nil, err
		}
	}
	requestID := uuid.NewString()
	req.SetHeader("Accept", "application/json, */*;q=0.5")
	req.SetHeader("X-Request-ID", requestID)

	log := e.r.logger.With(
		zap.String("step", step),
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
	)
	log.Debug("sending request", zap.ByteString("body", req.Body))

	record := &RequestRecord{
		Step:      step,
		Method:    method,
		Path:      path,
		RequestID: requestID,
	}
	e.result.Requests = append(e.result.Requests, record)

	start := time.Now()
	resp, err := e.r.client.Do(ctx, req)
	record.Duration = time.Since(start)

	if err != nil {
		record.Error = err.Error()
		e.r.recorder.Record(step, record.Duration, true)
		log.Warn("request failed", zap.Error(err))
		return nil, &TransportError{Method: method, Path: path, Err: err}
	}

	record.StatusCode = resp.StatusCode
	e.r.recorder.Record(step, resp.Duration, !resp.IsSuccess())
	log.Info("response received",
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.ContentType()),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)

	if !resp.IsSuccess() {
		statusErr := &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       resp.BodyPreview(maxErrorBody),
		}
		record.Error = statusErr.Error()
		return nil, statusErr
	}

	return decodePayload(method, path, resp)
}

func decodePayload(method, path string, resp *http.Response) (*Payload, error) {
	p := &Payload{
		Kind:        KindRaw,
		ContentType: resp.ContentType(),
		Body:        resp.Body,
	}
	if !resp.IsJSON() {
		return p, nil
	}

	p.Kind = KindJSON
	if len(resp.Body) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(resp.Body, &p.JSON); err != nil {
		return nil, &DecodeError{Method: method, Path: path, Err: err}
	}
	return p, nil
}

// IsTransport reports whether err stems from a transport failure
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
