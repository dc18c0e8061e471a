package service

import "errors"

// ErrClientClosed indicates the client has been closed.
var ErrClientClosed = errors.New("tribridrag: client is closed")

// ErrEmptyQuery indicates an empty search query.
var ErrEmptyQuery = errors.New("tribridrag: search query cannot be empty")
