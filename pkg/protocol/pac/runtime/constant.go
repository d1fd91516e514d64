package runtime

import (
	"errors"
	"time"
)

var ErrNotConnected = errors.New("pac not connected")
var ErrShortWrite = errors.New("pac short write")
var ErrConnClosed = errors.New("pac connection closed")
var ErrAsciiReply = errors.New("pac replied with ascii text instead of a binary frame")
var ErrIncompleteFrame = errors.New("pac frame incomplete")
var ErrIntegrity = errors.New("pac payload failed integrity check")
var ErrWriteRejected = errors.New("pac rejected write")
var ErrReplyOverflow = errors.New("pac ascii reply exceeds limit")
var ErrManyRetry = errors.New("pac read retried too many times")

const (
	// HeaderBytes precede every binary table frame.
	HeaderBytes  = 2
	ElementBytes = 4

	// Sentinel terminates ascii replies to single variable reads.
	Sentinel       byte = 0x20
	AsciiReplyMax       = 50
	ConfirmBytes        = 2
	AsciiErrorMinChars  = 5
	AsciiScanLimit      = 50

	DefaultTimeout        = 3 * time.Second
	DefaultConfirmTimeout = time.Second
	// DefaultIdleGap ends a binary frame early once the minimum payload has
	// arrived and the controller stops sending.
	DefaultIdleGap = 150 * time.Millisecond
)
