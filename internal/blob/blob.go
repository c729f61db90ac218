// Package blob is the photo storage facade. Only this package wraps the
// infra-backed implementations; everything else depends on the Store
// interface.
package blob

import (
	"context"
	"fmt"
	"os"
	"path"

	"auditcore/internal/blob/core"
	fsstore "auditcore/internal/infra/blob/fs"
	memorystore "auditcore/internal/infra/blob/memory"
	s3store "auditcore/internal/infra/blob/s3"
)

// Re-exported abstractions; see core for documentation.
type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Object           = core.Object
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
)

// Open selects a photo store implementation using environment variables.
//
//	AUDITCORE_PHOTO_DRIVER: fs|s3|memory (default fs)
//	AUDITCORE_PHOTO_FS_ROOT: directory root when driver=fs (default ./photodata)
//	(S3 specific variables documented in the s3 package)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("AUDITCORE_PHOTO_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return fsstore.New(os.Getenv("AUDITCORE_PHOTO_FS_ROOT"))
	case DriverS3:
		return s3store.OpenFromEnv(ctx)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown photo driver %s", driver)
	}
}

// NewMemory returns an in-memory photo store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed photo store from explicit configuration.
func NewS3(ctx context.Context, cfg s3store.Config) (Store, error) {
	return s3store.New(ctx, cfg)
}

// S3Config re-exports the S3 configuration type.
type S3Config = s3store.Config

// PhotoKey builds the canonical object key for a photo attached to an audit
// item. Item identifiers are unique even when minted offline, so keys never
// collide across devices.
func PhotoKey(itemID, filename string) string {
	return path.Join("photos", itemID, filename)
}
