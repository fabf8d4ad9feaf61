package errors

import (
	stderrors "errors"

	"github.com/vango-dev/tether/pkg/controller"
	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
	"github.com/vango-dev/tether/pkg/state"
	"github.com/vango-dev/tether/pkg/trigger"
	"github.com/vango-dev/tether/pkg/typed"
)

// Classify maps err to a registered TetherError. A *TetherError anywhere in
// the chain is returned as is; unrecognized errors become CodeInternal.
// Classify(nil) returns nil.
//
// Argument and serialization failures win over the trigger failure that
// wraps them, so a client sees why its call failed, not only that it did.
func Classify(err error) *TetherError {
	if err == nil {
		return nil
	}
	var te *TetherError
	if stderrors.As(err, &te) {
		return te
	}
	return New(classifyCode(err)).Wrap(err)
}

func classifyCode(err error) string {
	var exec *trigger.ExecutionError
	var ctrlPanic *controller.PanicError

	switch {
	case stderrors.Is(err, trigger.ErrInvalidArgument):
		return CodeInvalidArgument
	case stderrors.Is(err, state.ErrNotSerializable):
		return CodeNotSerializable
	case stderrors.Is(err, typed.ErrFieldType):
		return CodeInvalidArgument
	case stderrors.Is(err, typed.ErrUnknownField):
		return CodeInvalidName
	case stderrors.Is(err, trigger.ErrInvalidName):
		return CodeInvalidName
	case stderrors.Is(err, trigger.ErrNotFound):
		return CodeTriggerNotFound
	case stderrors.Is(err, controller.ErrNotFound):
		return CodeControllerNotFound
	case stderrors.Is(err, trigger.ErrAlreadyRegistered):
		return CodeTriggerConflict
	case stderrors.Is(err, state.ErrClosed):
		return CodeStoreClosed
	case stderrors.Is(err, server.ErrLifecycle):
		return CodeNotRunning
	case stderrors.As(err, &ctrlPanic):
		return CodeControllerPanicked
	case stderrors.As(err, &exec):
		if exec.Panic != nil {
			return CodeTriggerPanicked
		}
		return CodeTriggerFailed
	case stderrors.Is(err, protocol.ErrFrameTooLarge):
		return CodeFrameTooLarge
	case stderrors.Is(err, protocol.ErrInvalidFrameType):
		return CodeUnexpectedFrame
	case stderrors.Is(err, protocol.ErrTrailingData):
		return CodeMalformedFrame
	case stderrors.Is(err, link.ErrClosed):
		return CodeTransportClosed
	case stderrors.Is(err, server.ErrInvalidConfig):
		return CodeInvalidConfig
	default:
		return CodeInternal
	}
}
