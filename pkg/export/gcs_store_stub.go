//go:build !gcp

package export

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, bucket string) (Store, error) {
	return nil, fmt.Errorf("gcs pack storage is not enabled in this build (use -tags gcp)")
}
