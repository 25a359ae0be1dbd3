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

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// IndexedNote tells a requester their submitted repository made it into
// the catalog.
type IndexedNote struct {
	UserEmail     string `json:"user_email"`
	Locale        string `json:"locale"`
	SkillID       string `json:"skill_id"`
	SkillName     string `json:"skill_name"`
	RepositoryURL string `json:"repository_url"`
}

// Notifier delivers indexing notifications. Failures are logged and never
// block the pipeline; the request stays resolved either way.
type Notifier interface {
	SkillIndexed(ctx context.Context, note IndexedNote) error
}

// LogNotifier writes notifications to the log. Default when no webhook is
// configured, and the right choice for local runs.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SkillIndexed(_ context.Context, note IndexedNote) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("catalog.notify.skill_indexed",
		"user_email", note.UserEmail,
		"locale", note.Locale,
		"skill_id", note.SkillID,
		"skill_name", note.SkillName,
		"repository_url", note.RepositoryURL)
	return nil
}

// WebhookNotifier posts notifications to the web application, which owns
// templating and mail delivery.
type WebhookNotifier struct {
	URL    string
	Token  string
	Client *http.Client
}

// NewWebhookNotifier builds a notifier with a bounded request timeout.
func NewWebhookNotifier(url, token string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Token:  token,
		Client: &http.Client{Timeout: 15 * time.Second},
	}
}

func (n *WebhookNotifier) SkillIndexed(ctx context.Context, note IndexedNote) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}
	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
