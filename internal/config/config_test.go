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

package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/kraklabs/skilldex/internal/errors"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/skilldex_test")
	t.Setenv("GITHUB_TOKENS", "")
	t.Setenv("GITHUB_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultMinStars, cfg.MinStars)
	assert.Equal(t, DefaultCodeSearchInterval, cfg.CodeSearchInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Empty(t, cfg.Credentials)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	var ue *ierrors.UserError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, ierrors.KindConfig, ue.Kind)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/skilldex_test")
	t.Setenv("INDEXER_CONCURRENCY", "12")
	t.Setenv("INDEXER_MIN_STARS", "10")
	t.Setenv("CODE_SEARCH_INTERVAL", "2s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Concurrency)
	assert.Equal(t, 10, cfg.MinStars)
	assert.Equal(t, 2*time.Second, cfg.CodeSearchInterval)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/skilldex_test")

	t.Setenv("INDEXER_CONCURRENCY", "zero")
	_, err := Load()
	assert.Error(t, err)
	t.Setenv("INDEXER_CONCURRENCY", "")

	t.Setenv("CODE_SEARCH_INTERVAL", "7 parsecs")
	_, err = Load()
	assert.Error(t, err)
	t.Setenv("CODE_SEARCH_INTERVAL", "")

	t.Setenv("LOG_LEVEL", "loud")
	_, err = Load()
	assert.Error(t, err)
}

func TestParseCredentials(t *testing.T) {
	creds := parseCredentials("ghp_aaa, ghp_bbb", "", "primary")
	require.Len(t, creds, 2)
	assert.Equal(t, "ghp_aaa", creds[0].Token)
	assert.Equal(t, "primary", creds[0].Name)
	assert.Equal(t, "token-2", creds[1].Name)

	creds = parseCredentials("", "ghp_solo", "")
	require.Len(t, creds, 1)
	assert.Equal(t, "ghp_solo", creds[0].Token)
	assert.Equal(t, "token-1", creds[0].Name)

	assert.Empty(t, parseCredentials("", "", ""))
}

func TestRequireTokens(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.RequireTokens()
	require.Error(t, err)

	cfg.Credentials = parseCredentials("ghp_x", "", "")
	got, err := cfg.RequireTokens()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
