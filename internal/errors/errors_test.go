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

package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserErrorMessage(t *testing.T) {
	ue := NewDatabaseError("Cannot open catalog", "connection refused", "Check DATABASE_URL", nil)
	assert.Equal(t, "Cannot open catalog: connection refused", ue.Error())

	cause := errors.New("dial tcp: timeout")
	ue = NewNetworkError("API unreachable", "request failed", "", cause)
	assert.Equal(t, "API unreachable: request failed: dial tcp: timeout", ue.Error())
}

func TestUserErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := fmt.Errorf("midway: %w", NewInternalError("Broke", "something", "", cause))

	var ue *UserError
	require.True(t, errors.As(wrapped, &ue))
	assert.Equal(t, KindInternal, ue.Kind)
	assert.True(t, errors.Is(wrapped, cause))
}

func TestConstructorKinds(t *testing.T) {
	assert.Equal(t, KindConfig, NewConfigError("t", "d", "h", nil).Kind)
	assert.Equal(t, KindInput, NewInputError("t", "d", "h", nil).Kind)
	assert.Equal(t, KindPermission, NewPermissionError("t", "d", "h", nil).Kind)
}

func TestFatalErrorExits(t *testing.T) {
	var code int
	osExit = func(c int) { code = c }
	defer func() { osExit = os.Exit }()

	FatalError(errors.New("plain failure"), true)
	assert.Equal(t, 1, code)

	code = 0
	FatalError(NewConfigError("Missing token", "GITHUB_TOKENS unset", "export GITHUB_TOKENS", nil), false)
	assert.Equal(t, 1, code)
}
