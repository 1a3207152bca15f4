package queue

import "github.com/netpulse/netpulse/internal/model"

// Callbacks are persisted as tagged descriptors, not live function
// references: the worker resolves the kind at execution time.

type CallbackKind string

const (
	// CallbackNoop does nothing. Default success callback.
	CallbackNoop CallbackKind = "noop"
	// CallbackCapture stores the (type, value) of the failure into
	// job meta. Default failure callback.
	CallbackCapture CallbackKind = "capture"
	// CallbackWebHook delivers the job outcome to the configured URL.
	CallbackWebHook CallbackKind = "webhook"
	// CallbackRef names a registered callback on the worker side.
	CallbackRef CallbackKind = "ref"
)

type Callback struct {
	Kind    CallbackKind   `json:"kind"`
	Ref     string         `json:"ref,omitempty"`
	WebHook *model.WebHook `json:"webhook,omitempty"`

	// Timeout bounds callback execution, in seconds. Stamped by
	// WrapCallback so a stuck callback cannot pin a worker.
	Timeout int `json:"timeout"`
}

// WrapCallback stamps the execution budget onto a descriptor, filling in
// the default kind when none was chosen.

func WrapCallback(cb *Callback, fallback CallbackKind, timeoutSecs int) Callback {
	out := Callback{Kind: fallback}
	if cb != nil {
		out = *cb
	}

	if out.Kind == "" {
		out.Kind = fallback
	}

	out.Timeout = timeoutSecs
	return out
}
