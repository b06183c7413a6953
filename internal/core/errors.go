package core

import "errors"

// Sentinel errors for the scheduling surface. Handlers map these to HTTP
// codes with errors.Is, so wrap them rather than replacing the text.
var (
	ErrEmptyContent     = errors.New("empty_content")
	ErrInvalidTimezone  = errors.New("invalid_timezone")
	ErrInvalidWallClock = errors.New("invalid_wall_clock")
	ErrLeadTimeTooShort = errors.New("lead_time_too_short")
	ErrTooCloseToSend   = errors.New("too_close_to_send")
	ErrNotFound         = errors.New("not_found")
	ErrAlreadyTerminal  = errors.New("already_terminal")
)
