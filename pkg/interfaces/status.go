package interfaces

import "sessionlink/pkg/types"

// Presenter is the status-indicator sink. It has no return contract.
type Presenter interface {
	Present(status types.Status)
}

// Navigator moves the user elsewhere, e.g. after a session expires
type Navigator interface {
	Navigate(target string)
}
