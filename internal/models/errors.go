package models

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrBadRequest           = errors.New("bad request")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrVariantNotAvailable  = errors.New("image version not available")
	ErrTransientStorage     = errors.New("transient storage failure")
	ErrDataIntegrity        = errors.New("data integrity fault")
	// ErrConflict is returned by the metadata store when a unique key is taken.
	ErrConflict = errors.New("conflict")
)
