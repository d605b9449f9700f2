package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmylchreest/archsense/internal/model"
)

// Version is the protocol version written by this package. Payloads with a
// missing version are read as version 1.
const Version = 1

// DecodeError is a complete frame that could not be turned into a value.
// Kind is KindProtocolViolation, KindUnsupported or KindInvalidArgument.
type DecodeError struct {
	Kind    model.ErrorKind
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the connection must be closed after answering.
func (e *DecodeError) Fatal() bool {
	return e.Kind == model.KindProtocolViolation
}

func violation(msg string, err error) *DecodeError {
	return &DecodeError{Kind: model.KindProtocolViolation, Message: msg, Err: err}
}

func invalid(err error) *DecodeError {
	return &DecodeError{Kind: model.KindInvalidArgument, Message: "invalid argument", Err: err}
}

type requestEnvelope struct {
	V    int             `json:"v"`
	Tag  Tag             `json:"tag"`
	Args json.RawMessage `json:"args,omitempty"`
}

type requestArgs struct {
	Mode       *string `json:"mode,omitempty"`
	Speed      *int64  `json:"speed,omitempty"`
	Brightness *int64  `json:"brightness,omitempty"`
	Color      *string `json:"color,omitempty"`
	Feature    *string `json:"feature,omitempty"`
	Value      *bool   `json:"value,omitempty"`
	Profile    *string `json:"profile,omitempty"`
}

// EncodeRequest validates cmd and returns it as a frame.
func EncodeRequest(cmd Command) ([]byte, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s command: %w", cmd.Tag(), err)
	}

	var args *requestArgs
	switch c := cmd.(type) {
	case SetRgbMode:
		args = &requestArgs{Mode: ptr(string(c.Mode))}
	case SetRgbSpeed:
		args = &requestArgs{Speed: ptr(int64(c.Speed))}
	case SetRgbBrightness:
		args = &requestArgs{Brightness: ptr(int64(c.Brightness))}
	case SetRgbColor:
		args = &requestArgs{Color: ptr(string(c.Color))}
	case SetFanMode:
		args = &requestArgs{Mode: ptr(string(c.Mode))}
	case ToggleFeature:
		args = &requestArgs{Feature: ptr(string(c.Feature)), Value: c.Value}
	case SetThermalProfile:
		args = &requestArgs{Profile: ptr(string(c.Profile))}
	}

	env := requestEnvelope{V: Version, Tag: cmd.Tag()}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal args: %w", err)
		}
		env.Args = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return AppendFrame(nil, payload)
}

// DecodeRequest decodes the first frame in buf. On ErrIncomplete n is 0.
// For any *DecodeError other than an oversized frame, n covers the whole
// frame so decoding can resume at buf[n:].
func DecodeRequest(buf []byte) (cmd Command, n int, err error) {
	payload, n, err := SplitFrame(buf)
	if err != nil {
		return nil, n, err
	}
	cmd, err = ParseRequest(payload)
	return cmd, n, err
}

// ParseRequest decodes a request payload. All failures are *DecodeError.
func ParseRequest(payload []byte) (Command, error) {
	var env requestEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, violation("malformed request", err)
	}
	if err := checkVersion(env.V); err != nil {
		return nil, err
	}
	if env.Tag == "" {
		return nil, violation("request has no tag", nil)
	}
	if !env.Tag.Known() {
		return nil, &DecodeError{
			Kind:    model.KindUnsupported,
			Message: fmt.Sprintf("unknown command %q", env.Tag),
		}
	}

	var args requestArgs
	if len(env.Args) > 0 && string(env.Args) != "null" {
		if err := json.Unmarshal(env.Args, &args); err != nil {
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, invalid(err)
			}
			return nil, violation("malformed args", err)
		}
	}

	switch env.Tag {
	case TagSetRgbMode:
		s, err := required(args.Mode, "mode")
		if err != nil {
			return nil, err
		}
		m, err := model.ParseRgbMode(s)
		if err != nil {
			return nil, invalid(err)
		}
		return SetRgbMode{Mode: m}, nil

	case TagSetRgbSpeed:
		v, err := required(args.Speed, "speed")
		if err != nil {
			return nil, err
		}
		if v < model.MinRgbSpeed || v > model.MaxRgbSpeed {
			return nil, invalid(model.ValidateSpeed(clampInt(v)))
		}
		return SetRgbSpeed{Speed: int(v)}, nil

	case TagSetRgbBrightness:
		v, err := required(args.Brightness, "brightness")
		if err != nil {
			return nil, err
		}
		if v < model.MinRgbBrightness || v > model.MaxRgbBrightness {
			return nil, invalid(model.ValidateBrightness(clampInt(v)))
		}
		return SetRgbBrightness{Brightness: int(v)}, nil

	case TagSetRgbColor:
		s, err := required(args.Color, "color")
		if err != nil {
			return nil, err
		}
		c, err := model.ParseRgbColor(s)
		if err != nil {
			return nil, invalid(err)
		}
		return SetRgbColor{Color: c}, nil

	case TagSetFanMode:
		s, err := required(args.Mode, "mode")
		if err != nil {
			return nil, err
		}
		m, err := model.ParseFanMode(s)
		if err != nil {
			return nil, invalid(err)
		}
		return SetFanMode{Mode: m}, nil

	case TagToggleFeature:
		s, err := required(args.Feature, "feature")
		if err != nil {
			return nil, err
		}
		f, err := model.ParseFeature(s)
		if err != nil {
			return nil, invalid(err)
		}
		return ToggleFeature{Feature: f, Value: args.Value}, nil

	case TagCycleUsbThreshold:
		return CycleUsbThreshold{}, nil

	case TagSetThermalProfile:
		s, err := required(args.Profile, "profile")
		if err != nil {
			return nil, err
		}
		p, err := model.ParseThermalProfile(s)
		if err != nil {
			return nil, invalid(err)
		}
		return SetThermalProfile{Profile: p}, nil

	case TagGetState:
		return GetState{}, nil
	}

	return nil, &DecodeError{
		Kind:    model.KindUnsupported,
		Message: fmt.Sprintf("unknown command %q", env.Tag),
	}
}

// Warning is a non-fatal problem attached to a successful response.
type Warning struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// Response is the daemon's answer to one command. Exactly one of State and
// Err is set.
type Response struct {
	State    *model.Snapshot
	Warnings []Warning
	Err      *model.CommandError
}

// OK builds a successful response.
func OK(state *model.Snapshot, warnings ...Warning) *Response {
	return &Response{State: state, Warnings: warnings}
}

// Fail builds an error response.
func Fail(kind model.ErrorKind, message string) *Response {
	return &Response{Err: &model.CommandError{Kind: kind, Message: message}}
}

// FailWith builds an error response from err, using its kind when err is a
// *model.CommandError or *DecodeError.
func FailWith(err error) *Response {
	var cmdErr *model.CommandError
	if errors.As(err, &cmdErr) {
		return Fail(cmdErr.Kind, cmdErr.Error())
	}
	var decErr *DecodeError
	if errors.As(err, &decErr) {
		return Fail(decErr.Kind, decErr.Error())
	}
	return Fail(model.KindIoFailure, err.Error())
}

type responseEnvelope struct {
	V        int             `json:"v"`
	Result   string          `json:"result"`
	State    *model.Snapshot `json:"state,omitempty"`
	Warnings []Warning       `json:"warnings,omitempty"`
	Kind     model.ErrorKind `json:"kind,omitempty"`
	Message  string          `json:"message,omitempty"`
}

const (
	resultOK    = "ok"
	resultError = "error"
)

// EncodeResponse validates resp and returns it as a frame. A snapshot with
// out-of-domain fields is refused rather than echoed.
func EncodeResponse(resp *Response) ([]byte, error) {
	env := responseEnvelope{V: Version}
	switch {
	case resp.Err != nil:
		if !resp.Err.Kind.Valid() {
			return nil, fmt.Errorf("unknown error kind %q", resp.Err.Kind)
		}
		env.Result = resultError
		env.Kind = resp.Err.Kind
		env.Message = resp.Err.Message
	case resp.State != nil:
		if err := resp.State.Validate(); err != nil {
			return nil, fmt.Errorf("refusing to encode snapshot: %w", err)
		}
		env.Result = resultOK
		env.State = resp.State
		env.Warnings = resp.Warnings
	default:
		return nil, errors.New("response has neither state nor error")
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return AppendFrame(nil, payload)
}

// DecodeResponse decodes the first frame in buf, like DecodeRequest.
func DecodeResponse(buf []byte) (resp *Response, n int, err error) {
	payload, n, err := SplitFrame(buf)
	if err != nil {
		return nil, n, err
	}
	resp, err = ParseResponse(payload)
	return resp, n, err
}

// ParseResponse decodes a response payload.
func ParseResponse(payload []byte) (*Response, error) {
	var env responseEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, violation("malformed response", err)
	}
	if err := checkVersion(env.V); err != nil {
		return nil, err
	}

	switch env.Result {
	case resultOK:
		if env.State == nil {
			return nil, violation("ok response without state", nil)
		}
		if err := env.State.Validate(); err != nil {
			return nil, invalid(err)
		}
		return &Response{State: env.State, Warnings: env.Warnings}, nil
	case resultError:
		if !env.Kind.Valid() {
			return nil, violation(fmt.Sprintf("unknown error kind %q", env.Kind), nil)
		}
		return Fail(env.Kind, env.Message), nil
	}
	return nil, violation(fmt.Sprintf("unknown result %q", env.Result), nil)
}

func checkVersion(v int) error {
	if v == 0 {
		return nil
	}
	if v < 0 || v > Version {
		return violation(fmt.Sprintf("unsupported protocol version %d", v), nil)
	}
	return nil
}

func required[T any](v *T, name string) (T, error) {
	if v == nil {
		var zero T
		return zero, invalid(fmt.Errorf("%w: missing %s", model.ErrOutOfDomain, name))
	}
	return *v, nil
}

func ptr[T any](v T) *T {
	return &v
}

// clampInt narrows v for error messages without wrapping into range.
func clampInt(v int64) int {
	const maxInt = int64(^uint(0) >> 1)
	switch {
	case v > maxInt:
		return int(maxInt)
	case v < -maxInt-1:
		return int(-maxInt - 1)
	}
	return int(v)
}
