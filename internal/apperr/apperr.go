// Package apperr classifies pipeline failures so the presentation layer can
// tell the user which remedy applies: capture a photo, download the model
// assets, or replace a corrupt/incompatible download.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind int

const (
	KindInternal Kind = iota
	KindNoImage
	KindAssetsNotCached
	KindDownloadFailed
	KindInvalidImage
	KindModelLoad
	KindInference
	KindLabelMismatch
	KindNotCached
	KindBusy
	KindCanceled
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindNoImage:         "no_image",
	KindAssetsNotCached: "assets_not_cached",
	KindDownloadFailed:  "download_failed",
	KindInvalidImage:    "invalid_image",
	KindModelLoad:       "model_load_error",
	KindInference:       "inference_error",
	KindLabelMismatch:   "label_mismatch",
	KindNotCached:       "not_cached",
	KindBusy:            "busy",
	KindCanceled:        "canceled",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error annotates a failure with its kind and the operation that produced it.
// Asset and Status are only set for asset cache failures.
type Error struct {
	Kind   Kind
	Op     string
	Asset  string
	Status int
	Err    error
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrNoImage         = &Error{Kind: KindNoImage}
	ErrAssetsNotCached = &Error{Kind: KindAssetsNotCached}
	ErrDownloadFailed  = &Error{Kind: KindDownloadFailed}
	ErrInvalidImage    = &Error{Kind: KindInvalidImage}
	ErrModelLoad       = &Error{Kind: KindModelLoad}
	ErrInference       = &Error{Kind: KindInference}
	ErrLabelMismatch   = &Error{Kind: KindLabelMismatch}
	ErrNotCached       = &Error{Kind: KindNotCached}
	ErrBusy            = &Error{Kind: KindBusy}
	ErrCanceled        = &Error{Kind: KindCanceled}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Asset != "" {
		msg += fmt.Sprintf(" (asset=%s", e.Asset)
		if e.Status != 0 {
			msg += fmt.Sprintf(" status=%d", e.Status)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a classified error. A nil cause is allowed.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// DownloadFailed reports a failed asset download. Status is the HTTP status,
// or 0 when no response was received.
func DownloadFailed(asset string, status int, err error) *Error {
	return &Error{Kind: KindDownloadFailed, Op: "download", Asset: asset, Status: status, Err: err}
}

// NotCached reports a read of an asset that has not been stored.
func NotCached(asset string) *Error {
	return &Error{Kind: KindNotCached, Op: "get", Asset: asset}
}

// KindOf classifies err. Context cancellation maps to KindCanceled and any
// unclassified error to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Remedy returns the user-facing next step for a failure kind.
func Remedy(kind Kind) string {
	switch kind {
	case KindNoImage:
		return "No photo found. Capture or upload a whiskey photo first."
	case KindAssetsNotCached, KindNotCached:
		return "Model assets are not downloaded yet. Download them before classifying."
	case KindDownloadFailed:
		return "Downloading the model assets failed. Check the connection and retry; finished assets are kept."
	case KindInvalidImage:
		return "The photo could not be read. Capture or upload a different photo."
	case KindModelLoad:
		return "The cached model is corrupt. Clear the cached assets and download them again."
	case KindLabelMismatch:
		return "The cached model and label list do not match. Clear the cached assets and download them again."
	case KindInference:
		return "Classification failed for this photo. Try another photo."
	case KindBusy:
		return "A classification is already running. Wait for it to finish."
	case KindCanceled:
		return "Classification was canceled."
	default:
		return "An unexpected error occurred."
	}
}
