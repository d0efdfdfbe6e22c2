package aster

import (
	"encoding/json"
	"errors"

	apperrors "funding_harvester/pkg/errors"
)

// venueCodeSentinels maps the venue's numeric error codes onto the shared
// sentinels so callers branch with errors.Is instead of string matching.
var venueCodeSentinels = map[int]error{
	-1003: apperrors.ErrRateLimitExceeded,
	-1013: apperrors.ErrInvalidOrderParameter,
	-1021: apperrors.ErrTimestampOutOfBounds,
	-1022: apperrors.ErrAuthenticationFailed,
	-1111: apperrors.ErrInvalidOrderParameter,
	-1121: apperrors.ErrInvalidSymbol,
	-2010: apperrors.ErrInsufficientFunds,
	-2011: apperrors.ErrOrderRejected,
	-2013: apperrors.ErrOrderNotFound,
	-2014: apperrors.ErrAuthenticationFailed,
	-2015: apperrors.ErrAuthenticationFailed,
	-2012: apperrors.ErrDuplicateOrder,
	-2019: apperrors.ErrInsufficientFunds,
}

// refineError upgrades transport failures that carry a venue error body
// into VenueError values. Anything unrecognized passes through untouched.
func refineError(err error) error {
	if err == nil {
		return nil
	}
	var te *apperrors.TransportError
	if !errors.As(err, &te) {
		return err
	}
	if ve := parseVenueBody([]byte(te.Body)); ve != nil {
		return ve
	}
	return err
}

// parseVenueBody decodes the venue's {code,msg} error envelope. Returns nil
// unless the body parses and carries a negative code.
func parseVenueBody(body []byte) *apperrors.VenueError {
	var wire struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal(body, &wire) != nil || wire.Code >= 0 {
		return nil
	}
	return &apperrors.VenueError{Code: wire.Code, Message: wire.Msg, Err: venueCodeSentinels[wire.Code]}
}
