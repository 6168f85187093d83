package whisper

import "errors"

// ErrUnavailable is returned by the stub variant when the daemon was built
// without the whispercpp tag.
var ErrUnavailable = errors.New("whisper.cpp bindings not compiled in (build with -tags whispercpp)")
