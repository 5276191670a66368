package loadpipe

import (
	"github.com/pkg/errors"
)

var (
	ErrUsage           = errors.New("loadpipe: usage error")
	ErrMalformedRecord = errors.New("loadpipe: malformed record")
	ErrSinkFailed      = errors.New("loadpipe: sink failed")
	ErrProcessTimeout  = errors.New("loadpipe: process timed out")
	ErrLoaderTooOld    = errors.New("loadpipe: loader version too old")
)
