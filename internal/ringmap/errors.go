package ringmap

import "errors"

// ErrInvalidCoordinate is returned whenever a coordinate conversion or
// validation function receives a non-finite (NaN or ±Inf) component. It is
// the only failure mode the coordinate model exposes; every conversion is
// otherwise total.
var ErrInvalidCoordinate = errors.New("InvalidCoordinate")
