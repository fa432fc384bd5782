// Package attachments stores message attachment payloads. The protocol
// layer only carries references; the bytes live here.
package attachments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/carelinehq/realtime/internal/domain"
)

// ErrNotFound is returned when no payload exists for a key.
var ErrNotFound = errors.New("attachments: not found")

// Store persists attachment payloads and hands back references the
// message.send frame can carry.
type Store interface {
	// Upload stores the payload and returns its reference.
	Upload(ctx context.Context, name, contentType string, r io.Reader, size int64) (domain.Attachment, error)
	// Open retrieves the payload for a reference key. The caller closes
	// the returned ReadCloser.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether a payload exists for the key.
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns an access URL for the payload, valid for the given
	// duration where the backend supports expiry.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)
}

// newKey builds a collision-free storage key, keeping the original
// extension so content sniffing downstream stays cheap.
func newKey(name string) string {
	return fmt.Sprintf("attachments/%s%s", uuid.New().String(), path.Ext(name))
}
