// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package source defines the contract every mailbox adapter implements.
package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bcem/replyflow/internal/models"
)

// AuthError indicates that authentication has failed or expired for a
// mailbox. Adapters return it when the provider rejects credentials.
type AuthError struct {
	Source  string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Source, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Adapter fetches inbound mail for one mailbox identity.
type Adapter interface {
	// Name identifies the adapter in error strings and metrics labels.
	Name() string

	// Identity is the mailbox this adapter reads from.
	Identity() models.Identity

	// FetchSince returns messages received at or after since. The returned
	// messages need not have ReceivedByIdentity set; the aggregator tags them.
	FetchSince(ctx context.Context, since time.Time) ([]models.InboundMessage, error)
}
