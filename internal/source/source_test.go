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

package source

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAuthError(t *testing.T) {
	authErr := &AuthError{Source: "imap:sales@example.com", Message: "bad password"}

	if !IsAuthError(authErr) {
		t.Error("expected direct AuthError to match")
	}
	if !IsAuthError(fmt.Errorf("fetch: %w", authErr)) {
		t.Error("expected wrapped AuthError to match")
	}
	if IsAuthError(errors.New("connection refused")) {
		t.Error("plain error should not match")
	}

	want := "auth error (imap:sales@example.com): bad password"
	if authErr.Error() != want {
		t.Errorf("Error() = %q, want %q", authErr.Error(), want)
	}
}
