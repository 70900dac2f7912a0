package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveKind names one family of rows copied to cold storage. It is also
// the directory under archive/ in the bucket.
type ArchiveKind string

const (
	ArchiveOpportunities  ArchiveKind = "opportunities"
	ArchiveVaultMovements ArchiveKind = "vault_movements"
	ArchiveErrorLogs      ArchiveKind = "error_logs"
)

// ArchiveKinds lists every kind in the order an archive run processes them.
var ArchiveKinds = []ArchiveKind{ArchiveOpportunities, ArchiveVaultMovements, ArchiveErrorLogs}

// ArchiveSink accepts encoded archive files. Small files go through Put,
// large ones through PutMultipart.
type ArchiveSink interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver copies rows created before a cutoff to cold storage and reports
// how many it wrote. A kind already archived for the cutoff month writes 0.
type Archiver interface {
	ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error)
	ArchiveMovements(ctx context.Context, before time.Time) (int64, error)
	ArchiveErrorLogs(ctx context.Context, before time.Time) (int64, error)
}
