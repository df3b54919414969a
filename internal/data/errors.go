package data

import "errors"

var (
	ErrNotFound           = errors.New("mod not found")
	ErrBadStatus          = errors.New("invalid status")
	ErrTransport          = errors.New("download failed")
	ErrArchiveInvalid     = errors.New("archive invalid")
	ErrPatchBarrier       = errors.New("failed to acquire patches")
	ErrMetadataParse      = errors.New("mod metadata could not be parsed")
	ErrDuplicateMod       = errors.New("mod is already installed")
	ErrAlreadyDownloading = errors.New("mod is already downloading")
	ErrUnsatisfiable      = errors.New("constraint cannot be satisfied")
	ErrActivationConflict = errors.New("activation conflict")
	ErrCancelled          = errors.New("download cancelled")
)
