package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
)

// Kind classifies fetch errors.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidMethod
	KindInvalidHeader
	KindInvalidURL
	KindSchemeNotSupported
	KindProxyConfig
	KindNetwork
	KindRequestCanceled
	KindResourceNotFound
	KindDataURLDecode
	KindPersistence
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidMethod:
		return "InvalidMethod"
	case KindInvalidHeader:
		return "InvalidHeader"
	case KindInvalidURL:
		return "InvalidUrl"
	case KindSchemeNotSupported:
		return "SchemeNotSupported"
	case KindProxyConfig:
		return "ProxyConfigError"
	case KindNetwork:
		return "Network"
	case KindRequestCanceled:
		return "RequestCanceled"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindDataURLDecode:
		return "DataUrlDecodeError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "Unknown"
	}
}

// Construction reports whether errors of this kind are raised while
// building a request, before any network activity.
func (k Kind) Construction() bool {
	switch k {
	case KindInvalidMethod, KindInvalidHeader, KindInvalidURL,
		KindSchemeNotSupported, KindProxyConfig, KindDataURLDecode:
		return true
	}
	return false
}

// Phase tells where a network error happened.
type Phase string

const (
	PhaseConnect  Phase = "connect"
	PhaseTransfer Phase = "transfer"
)

// Error is the error type returned by this package.
type Error struct {
	Kind  Kind
	Op    string
	Phase Phase
	Err   error
}

var (
	// ErrRequestCanceled matches any error of kind KindRequestCanceled.
	ErrRequestCanceled = &Error{Kind: KindRequestCanceled}
	// ErrResourceNotFound matches any error of kind KindResourceNotFound.
	ErrResourceNotFound = &Error{Kind: KindResourceNotFound}
)

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Phase != "" {
		msg += " (" + string(e.Phase) + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches kind sentinels such as ErrRequestCanceled.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Kind == e.Kind
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func canceled(op string) *Error {
	return &Error{Kind: KindRequestCanceled, Op: op}
}

func networkError(op string, phase Phase, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Phase: phase, Err: err}
}

// notFound converts resource table errors into fetch errors.
func notFound(op string, err error) *Error {
	return &Error{Kind: KindResourceNotFound, Op: op, Err: err}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, resource.ErrNotFound) || errors.Is(err, resource.ErrBadResource) {
		return KindResourceNotFound
	}
	if errors.Is(err, context.Canceled) {
		return KindRequestCanceled
	}
	return KindUnknown
}

// sendPhase decides whether a send failure happened while establishing the
// connection or after it was up.
func sendPhase(err error) Phase {
	var (
		opErr   *net.OpError
		dnsErr  *net.DNSError
		certErr *tls.CertificateVerificationError
		unkErr  x509.UnknownAuthorityError
		hostErr x509.HostnameError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &certErr),
		errors.As(err, &unkErr),
		errors.As(err, &hostErr):
		return PhaseConnect
	case errors.As(err, &opErr) && (opErr.Op == "dial" || opErr.Op == "proxyconnect"):
		return PhaseConnect
	}
	return PhaseTransfer
}
