// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package fetcherr classifies source fetch failures into the small set of
// kinds the retry policy understands.
package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Kind is a classified failure cause. The string values are persisted in
// manifests and must not change.
type Kind string

const (
	KindAuth                    Kind = "AuthError"
	KindRateLimited             Kind = "RateLimited"
	KindRemoteProcessingTimeout Kind = "RemoteProcessingTimeout"
	KindTransientNetwork        Kind = "TransientNetworkError"
	KindPermanentRemote         Kind = "PermanentRemoteError"
	KindLocalIO                 Kind = "LocalIOError"
)

var allKinds = []Kind{
	KindAuth,
	KindRateLimited,
	KindRemoteProcessingTimeout,
	KindTransientNetwork,
	KindPermanentRemote,
	KindLocalIO,
}

// Kinds returns every known kind.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

func (k Kind) Valid() bool {
	for _, known := range allKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Transient reports whether the kind is worth retrying with backoff.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindTransientNetwork, KindRemoteProcessingTimeout:
		return true
	default:
		return false
	}
}

// Error is a classified fetch failure.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with an explicit kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func Auth(op string, err error) *Error      { return New(KindAuth, op, err) }
func Permanent(op string, err error) *Error { return New(KindPermanentRemote, op, err) }
func Transient(op string, err error) *Error { return New(KindTransientNetwork, op, err) }
func LocalIO(op string, err error) *Error   { return New(KindLocalIO, op, err) }

// IsCanceled reports whether err is the result of the caller's context being
// canceled, as opposed to a remote deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// KindOf returns the classification of err. Errors that carry no
// classification are inspected for well-known network, filesystem and SDK
// error types; anything still unknown is permanent so it is never retried
// blindly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Classify(err).Kind
}

// RetryAfterOf returns the provider requested delay, if any.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// Classify converts an arbitrary error into a classified *Error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() != 0 {
		e := FromStatus(respErr.HTTPStatusCode(), "", err)
		return e
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return Permanent("", err)
		case "ExpiredToken", "InvalidAccessKeyId", "AccessDenied", "SignatureDoesNotMatch":
			return Auth("", err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return New(KindRateLimited, "", err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return Transient("", err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return New(KindRemoteProcessingTimeout, "", err)
	}

	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, fs.ErrPermission) || errors.Is(err, syscall.EROFS) {
		return LocalIO("", err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return LocalIO("", err)
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return LocalIO("", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(KindRemoteProcessingTimeout, "", err)
		}
		return Transient("", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return Transient("", err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return Transient("", err)
	}

	return Permanent("", err)
}

// FromStatus maps an HTTP status code to a kind.
func FromStatus(status int, op string, err error) *Error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	e := &Error{Op: op, StatusCode: status, Err: err}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		e.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		e.Kind = KindRemoteProcessingTimeout
	case status >= 500:
		e.Kind = KindTransientNetwork
	default:
		e.Kind = KindPermanentRemote
	}
	return e
}

// FromResponse classifies a non-2xx HTTP response, honoring Retry-After.
func FromResponse(resp *http.Response, op string, body string) *Error {
	var err error
	if body = strings.TrimSpace(body); body != "" {
		if len(body) > 300 {
			body = body[:300]
		}
		err = errors.New(body)
	}
	e := FromStatus(resp.StatusCode, op, err)
	e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	return e
}

// ParseRetryAfter understands both delta-seconds and HTTP-date forms.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
