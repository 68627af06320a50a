package database

import (
	"fmt"

	"casper-chat/internal/apperrors"
)

var (
	ErrUserNotFound   = fmt.Errorf("%w: user not found", apperrors.ErrNotFound)
	ErrDuplicateUser  = fmt.Errorf("%w: username or email already registered", apperrors.ErrConflict)
	ErrTicketNotFound = fmt.Errorf("%w: ticket not found", apperrors.ErrNotFound)
	ErrTicketReplied  = fmt.Errorf("%w: ticket already replied", apperrors.ErrConflict)
)
