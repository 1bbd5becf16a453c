package memstore

import (
	"errors"
	"fmt"

	"github.com/duocall/duocall/internal/core/domain"
)

var errClosed = errors.New("memstore: connection closed")

func notFound(path string) error {
	return fmt.Errorf("%s: %w", path, domain.ErrNotFound)
}
