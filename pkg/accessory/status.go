package accessory

import "errors"

// Status is a HAP status code as carried in JSON "status" fields.
type Status int

const (
	StatusSuccess                   Status = 0
	StatusInsufficientPrivileges    Status = -70401
	StatusUnableToPerformOperation  Status = -70402
	StatusResourceBusy              Status = -70403
	StatusReadOnlyCharacteristic    Status = -70404
	StatusWriteOnlyCharacteristic   Status = -70405
	StatusNotificationNotSupported  Status = -70406
	StatusOutOfResources            Status = -70407
	StatusOperationTimedOut         Status = -70408
	StatusResourceDoesNotExist      Status = -70409
	StatusInvalidValueInRequest     Status = -70410
	StatusInsufficientAuthorization Status = -70411
	StatusNotAllowedInCurrentState  Status = -70412
)

// String returns a short description of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInsufficientPrivileges:
		return "insufficient privileges"
	case StatusUnableToPerformOperation:
		return "unable to perform operation"
	case StatusResourceBusy:
		return "resource busy"
	case StatusReadOnlyCharacteristic:
		return "read-only characteristic"
	case StatusWriteOnlyCharacteristic:
		return "write-only characteristic"
	case StatusNotificationNotSupported:
		return "notification not supported"
	case StatusOutOfResources:
		return "out of resources"
	case StatusOperationTimedOut:
		return "operation timed out"
	case StatusResourceDoesNotExist:
		return "resource does not exist"
	case StatusInvalidValueInRequest:
		return "invalid value in request"
	case StatusInsufficientAuthorization:
		return "insufficient authorization"
	case StatusNotAllowedInCurrentState:
		return "not allowed in current state"
	default:
		return "unknown status"
	}
}

// StatusFromError maps a handler error onto its wire status.
func StatusFromError(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrInvalidState):
		return StatusNotAllowedInCurrentState
	case errors.Is(err, ErrInvalidData):
		return StatusInvalidValueInRequest
	case errors.Is(err, ErrOutOfResources):
		return StatusOutOfResources
	case errors.Is(err, ErrNotAuthorized):
		return StatusInsufficientAuthorization
	case errors.Is(err, ErrBusy):
		return StatusResourceBusy
	default:
		return StatusUnableToPerformOperation
	}
}
