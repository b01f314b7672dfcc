package blobstore

import "errors"

var (
	// ErrFetch indicates the source asset could not be retrieved.
	ErrFetch = errors.New("blobstore: fetch source failed")
	// ErrStore indicates the storage provider rejected the write or delete.
	ErrStore = errors.New("blobstore: store operation failed")
	// ErrDecode indicates a malformed inline payload.
	ErrDecode = errors.New("blobstore: decode payload failed")
)
