package image_loader

import (
	"context"
	"os"
)

// FileFetcher reads raw bytes from the local filesystem; the location key is
// the file path.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(location)
}
