package models

import "errors"

// Lookup sentinels shared by the stores in utils and the services that
// consume them.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrEpisodeNotFound = errors.New("episode not found")
)
