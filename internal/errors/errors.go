// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors defines the operator-facing error taxonomy used by the
// CLI. A UserError carries a short title, a longer detail, and a hint
// telling the operator what to try next; FatalError renders one and exits.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Kind labels the failure category.
type Kind string

const (
	KindConfig     Kind = "config"
	KindInput      Kind = "input"
	KindDatabase   Kind = "database"
	KindNetwork    Kind = "network"
	KindPermission Kind = "permission"
	KindInternal   Kind = "internal"
)

// UserError is a failure meant to be read by a person running the CLI.
// Err keeps the underlying cause for wrapping and logs.
type UserError struct {
	Kind   Kind   `json:"kind"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Hint   string `json:"hint,omitempty"`
	Err    error  `json:"-"`
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Err }

func newError(kind Kind, title, detail, hint string, err error) *UserError {
	return &UserError{Kind: kind, Title: title, Detail: detail, Hint: hint, Err: err}
}

// NewConfigError reports missing or invalid configuration.
func NewConfigError(title, detail, hint string, err error) *UserError {
	return newError(KindConfig, title, detail, hint, err)
}

// NewInputError reports invalid command arguments or flags.
func NewInputError(title, detail, hint string, err error) *UserError {
	return newError(KindInput, title, detail, hint, err)
}

// NewDatabaseError reports a failure talking to Postgres.
func NewDatabaseError(title, detail, hint string, err error) *UserError {
	return newError(KindDatabase, title, detail, hint, err)
}

// NewNetworkError reports a failure reaching an external service.
func NewNetworkError(title, detail, hint string, err error) *UserError {
	return newError(KindNetwork, title, detail, hint, err)
}

// NewPermissionError reports denied filesystem or API access.
func NewPermissionError(title, detail, hint string, err error) *UserError {
	return newError(KindPermission, title, detail, hint, err)
}

// NewInternalError reports a bug or an unclassified failure.
func NewInternalError(title, detail, hint string, err error) *UserError {
	return newError(KindInternal, title, detail, hint, err)
}

// osExit is swapped out in tests.
var osExit = os.Exit

// FatalError renders err to stderr and exits with status 1. In JSON mode
// the error is emitted as a single machine-readable object. Errors that
// are not a UserError are wrapped as internal before rendering.
func FatalError(err error, jsonMode bool) {
	var ue *UserError
	if !errors.As(err, &ue) {
		ue = NewInternalError("Unexpected error", err.Error(), "", err)
	}

	if jsonMode {
		out := struct {
			Error *UserError `json:"error"`
			Cause string     `json:"cause,omitempty"`
		}{Error: ue}
		if ue.Err != nil {
			out.Cause = ue.Err.Error()
		}
		enc := json.NewEncoder(os.Stderr)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		osExit(1)
		return
	}

	red := color.New(color.FgRed, color.Bold)
	dim := color.New(color.Faint)
	_, _ = red.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
	if ue.Detail != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", ue.Detail)
	}
	if ue.Err != nil {
		_, _ = dim.Fprintf(os.Stderr, "  cause: %v\n", ue.Err)
	}
	if ue.Hint != "" {
		fmt.Fprintf(os.Stderr, "\nHint: %s\n", ue.Hint)
	}
	osExit(1)
}
