package storage

import "context"

// Archive stores raw provider payloads for later inspection. Archiving is
// best-effort: the monitoring pass treats failures as log-only.
type Archive interface {
	Store(ctx context.Context, name string, data []byte) error
}
