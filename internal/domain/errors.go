package domain

import (
	"errors"
	"fmt"
)

var (
	ErrChannelInactive       = errors.New("channel is not active")
	ErrRouteInactive         = errors.New("route is not active")
	ErrNoEligibleSubscribers = errors.New("no eligible subscribers for channel")
	ErrUnsupportedRouteType  = errors.New("unsupported route type")
	ErrProviderRejected      = errors.New("provider response did not satisfy success rule")
)

// RouteNotFoundError is returned when a route cannot be resolved by id or webhook path.
type RouteNotFoundError struct {
	Kind RouteType
	ID   int64
	Path string
}

func (e *RouteNotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("no active route for webhook path %q", e.Path)
	}
	if e.Kind != "" {
		return fmt.Sprintf("%s route %d not found", e.Kind, e.ID)
	}
	return fmt.Sprintf("route %d not found", e.ID)
}

type ChannelNotFoundError struct {
	ID int64
}

func (e *ChannelNotFoundError) Error() string {
	return fmt.Sprintf("channel %d not found", e.ID)
}

type CredentialNotFoundError struct {
	ID int64
}

func (e *CredentialNotFoundError) Error() string {
	return fmt.Sprintf("whatsapp credential %d not found", e.ID)
}
