package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/nodepool/internal/core/domain"
)

// ErrBadResponse marks a response body that could not be decoded.
var ErrBadResponse = errors.New("bad response")

// JSON-RPC request errors. Another node would reject the same call.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ErrorCode matches the interface go-ethereum uses for its RPC errors.
func (e *Error) ErrorCode() int {
	return e.Code
}

// HTTPError is a non-2xx HTTP answer.
type HTTPError struct {
	StatusCode int
	RetryAfter string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

// ErrorAction determines how a failed call should be handled.
type ErrorAction int

const (
	// ActionFailover means the node is at fault; try another one.
	ActionFailover ErrorAction = iota
	// ActionFatal means the call itself is at fault.
	ActionFatal
	// ActionCancel means the caller gave up.
	ActionCancel
)

func (a ErrorAction) String() string {
	switch a {
	case ActionFailover:
		return "failover"
	case ActionFatal:
		return "fatal"
	case ActionCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// ClassifyError decides what a failed call means for routing.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionFatal
	}
	if errors.Is(err, context.Canceled) {
		return ActionCancel
	}
	if st, ok := grpcStatus(err); ok {
		return classifyGRPC(st)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBadResponse) {
		return ActionFailover
	}

	var coded interface {
		error
		ErrorCode() int
	}
	if errors.As(err, &coded) {
		switch coded.ErrorCode() {
		case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
			return ActionFatal
		}
		if isThrottleMessage(coded.Error()) {
			return ActionFailover
		}
		return ActionFatal
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTPStatus(httpErr.StatusCode)
	}
	var gethHTTPErr gethrpc.HTTPError
	if errors.As(err, &gethHTTPErr) {
		return classifyHTTPStatus(gethHTTPErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ActionFailover
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ActionFailover
	}

	// Untyped errors from third-party clients.
	s := err.Error()
	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}
	lower := strings.ToLower(s)
	if isThrottleMessage(lower) ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "eof") {
		return ActionFailover
	}
	return ActionFatal
}

func classifyHTTPStatus(code int) ErrorAction {
	switch {
	case code >= 500,
		code == http.StatusTooManyRequests,
		code == http.StatusForbidden,
		code == http.StatusUnauthorized,
		code == http.StatusNotFound,
		code == http.StatusRequestTimeout:
		return ActionFailover
	default:
		return ActionFatal
	}
}

func isThrottleMessage(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "429") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "quota") ||
		strings.Contains(s, "plan limit") ||
		strings.Contains(s, "count exceeded")
}

func grpcStatus(err error) (*status.Status, bool) {
	var se interface{ GRPCStatus() *status.Status }
	if !errors.As(err, &se) {
		return nil, false
	}
	return se.GRPCStatus(), true
}

func classifyGRPC(st *status.Status) ErrorAction {
	switch st.Code() {
	case codes.Canceled:
		return ActionCancel
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return ActionFailover
	}
	for _, d := range st.Details() {
		if _, ok := d.(*errdetails.RetryInfo); ok {
			return ActionFailover
		}
	}
	return ActionFatal
}

// ErrorPolicy answers the routing questions about errors returned by this
// package, by go-ethereum clients and by gRPC.
type ErrorPolicy struct{}

func (ErrorPolicy) IsNetworkError(err error) bool {
	return err != nil && ClassifyError(err) == ActionFailover
}

func (ErrorPolicy) IsCancelled(err error) bool {
	return err != nil && ClassifyError(err) == ActionCancel
}

func (ErrorPolicy) NoEndpoints(group string) error {
	return &domain.NoEndpointsError{Group: group}
}
