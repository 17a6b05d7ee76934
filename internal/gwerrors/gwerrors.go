package gwerrors

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// transport: connect/read/write failures on device or cloud links
	ErrTransport = errors.New("transport failure")
	// framing: unexpected token or EOF in the middle of a frame
	ErrFraming = errors.New("protocol framing violated")
	// decode: payload received but not parseable
	ErrDecode = errors.New("malformed payload")
	// storage: the device/version repositories failed underneath us
	ErrStorage = errors.New("storage failure")
	// signature: update package rejected by the verifier
	ErrSignatureRejected = errors.New("package signature rejected")
	// policy: the operation is refused by gateway policy, not by a fault
	ErrRequestInFlight = errors.New("a request for this device is already in flight")
	ErrUnknownDevice   = errors.New("device is not known to the gateway")
	ErrPackageTooLarge = errors.New("pending packages exceed the configured byte budget")
	// external: recommender or cloud collaborator failed
	ErrExternal = errors.New("external service failure")

	ErrNotFound = errors.New("record not found")
)

func ErrorFromGormError(err error) error {
	switch err {
	case nil:
		return nil
	case gorm.ErrRecordNotFound:
		return ErrNotFound
	default:
		return errors.Join(ErrStorage, err)
	}
}
