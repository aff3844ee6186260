package journal

import "errors"

var (
	ErrJournalClosed = errors.New("journal is closed")
	ErrWriteTimeout  = errors.New("journal write timeout")
	ErrShuttingDown  = errors.New("journal is shutting down")
	ErrInvalidLimit  = errors.New("limit must be positive")
)
