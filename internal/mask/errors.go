package mask

import "errors"

// ErrEmptySource is returned when the source raster exposes no block windows,
// leaving nothing to sample or process.
var ErrEmptySource = errors.New("no block windows found in the source raster")
