package sinkx

import "github.com/Abraxas-365/rollout/pkg/errx"

var sinkErrors = errx.NewRegistry("SINKX")

var (
	ErrOpen    = sinkErrors.Register("OPEN", errx.TypeExternal, "Failed to open record store")
	ErrAppend  = sinkErrors.Register("APPEND", errx.TypeExternal, "Failed to append record")
	ErrLoad    = sinkErrors.Register("LOAD", errx.TypeExternal, "Failed to load records")
	ErrMarshal = sinkErrors.Register("MARSHAL", errx.TypeInternal, "Failed to encode record")
	ErrCorrupt = sinkErrors.Register("CORRUPT", errx.TypeValidation, "Record line could not be decoded")
	ErrClosed  = sinkErrors.Register("CLOSED", errx.TypeConflict, "Writer is closed")
	ErrMirror  = sinkErrors.Register("MIRROR", errx.TypeExternal, "Mirror store write failed")
)
