package core

// # Error Codes Reference
//
// Every failure surfaced by the CLI, the run history, or the status server is
// mapped to a short code so operators can find the matching log entries.
//
//	REG001  - Country registry could not be resolved (ResolutionError)
//	DATA001 - Pcode table is missing required columns (MalformedTableError)
//	DATA002 - Country has no rows in the pcode table (UnknownCountryError)
//	DATA003 - Admin level is not a positive integer (InvalidLevelError)
//	DATA004 - Country code has no display name in the registry (MissingDisplayNameError)
//	DATA005 - Pcode dataset not found in the catalog (ErrDatasetNotFound)
//	FILE001 - Form file could not be written (WriteError)
//	API001  - Publish platform rejected a request (RemoteAPIError)
//	RUN001  - Another sync run is in progress (ErrRunInProgress)
//	RUN002  - Run id is unknown (ErrRunNotFound)
//	CTX001  - Run was cancelled (context.Canceled)
//	CTX002  - Run timed out (context.DeadlineExceeded)
//	NET001  - Network failure ("connection refused", "no such host", ...)
//	ERR000  - Anything else

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage is an operator-facing description of an error.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorKind struct {
	match func(error) bool
	msg   UserMessage
}

func as[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func contains(patterns ...string) func(error) bool {
	return func(err error) bool {
		s := strings.ToLower(err.Error())
		for _, p := range patterns {
			if strings.Contains(s, p) {
				return true
			}
		}
		return false
	}
}

// errorKinds is checked in order; the first match wins. Typed errors come
// first so a wrapped network failure inside a ResolutionError reports REG001.
var errorKinds = []errorKind{
	{
		match: as[*ResolutionError],
		msg: UserMessage{
			Message: "Country registry could not be resolved",
			Action:  "Check REGISTRY_TOKEN and that the registry extract has name and code columns",
			Code:    "REG001",
		},
	},
	{
		match: as[*MalformedTableError],
		msg: UserMessage{
			Message: "Pcode table is missing required columns",
			Action:  "Verify the downloaded dataset has Location, Admin Level, P-Code and Name columns",
			Code:    "DATA001",
		},
	},
	{
		match: as[*UnknownCountryError],
		msg: UserMessage{
			Message: "Country has no rows in the pcode table",
			Action:  "Re-download the dataset and retry",
			Code:    "DATA002",
		},
	},
	{
		match: as[*InvalidLevelError],
		msg: UserMessage{
			Message: "Admin level is not a positive integer",
			Action:  "Inspect the reported line of the pcode dataset",
			Code:    "DATA003",
		},
	},
	{
		match: as[*MissingDisplayNameError],
		msg: UserMessage{
			Message: "Country code has no display name in the registry",
			Action:  "Add the code to the registry extract before publishing",
			Code:    "DATA004",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrDatasetNotFound) },
		msg: UserMessage{
			Message: "Pcode dataset not found in the catalog",
			Action:  "Check HDX_QUERY and HDX_RESOURCE_NAME",
			Code:    "DATA005",
		},
	},
	{
		match: as[*WriteError],
		msg: UserMessage{
			Message: "Form file could not be written",
			Action:  "Check permissions and free space in XLSFORM_DIR",
			Code:    "FILE001",
		},
	},
	{
		match: as[*RemoteAPIError],
		msg: UserMessage{
			Message: "Publish platform rejected a request",
			Action:  "Check the target token and collection uid",
			Code:    "API001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrRunInProgress) },
		msg: UserMessage{
			Message: "Another sync run is in progress",
			Action:  "Wait for the current run to finish",
			Code:    "RUN001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrRunNotFound) },
		msg: UserMessage{
			Message: "Run not found",
			Action:  "List runs to find a valid id",
			Code:    "RUN002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, context.Canceled) },
		msg: UserMessage{
			Message: "Run was cancelled",
			Action:  "Start a new run when ready",
			Code:    "CTX001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, context.DeadlineExceeded) },
		msg: UserMessage{
			Message: "Run timed out",
			Action:  "Increase HTTP_TIMEOUT or PUBLISH_POLL_TIMEOUT",
			Code:    "CTX002",
		},
	},
	{
		match: contains("connection refused", "connection reset", "no such host", "i/o timeout", "tls:"),
		msg: UserMessage{
			Message: "Network failure",
			Action:  "Check connectivity to the remote service and retry",
			Code:    "NET001",
		},
	},
}

// defaultMessage is returned when no kind matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the technical error",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message. It returns the
// zero UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, k := range errorKinds {
		if k.match(err) {
			return k.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// ErrorCode returns the code for err, or "" for nil.
func ErrorCode(err error) string {
	return MapError(err).Code
}
