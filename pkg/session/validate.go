// SPDX-License-Identifier: Apache-2.0
package session

import (
	"fmt"
	"regexp"
	"time"

	"github.com/jllopis/pistis/pkg/core"
	"github.com/jllopis/pistis/pkg/errors"
)

// MaxTimeout bounds per-call timeout overrides.
const MaxTimeout = 10 * time.Minute

const maxNameLen = 128

var (
	toolNameRe       = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_./-]*$`)
	idempotencyKeyRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)
)

// validateRequest rejects malformed caller input synchronously, before any
// transport call is attempted.
func validateRequest(req core.CallRequest) error {
	if req.Tool == "" {
		return errors.New(errors.KindValidation, "tool name is required", nil)
	}
	if len(req.Tool) > maxNameLen {
		return errors.New(errors.KindValidation, fmt.Sprintf("tool name exceeds %d bytes", maxNameLen), nil)
	}
	if !toolNameRe.MatchString(req.Tool) {
		return errors.New(errors.KindValidation, "malformed tool name", nil).
			WithContext("tool", req.Tool)
	}

	if req.IdempotencyKey != "" {
		if len(req.IdempotencyKey) > maxNameLen {
			return errors.New(errors.KindValidation, fmt.Sprintf("idempotency key exceeds %d bytes", maxNameLen), nil)
		}
		if !idempotencyKeyRe.MatchString(req.IdempotencyKey) {
			return errors.New(errors.KindValidation, "malformed idempotency key", nil)
		}
	}

	if req.Timeout < 0 {
		return errors.New(errors.KindValidation, "timeout override must be non-negative", nil)
	}
	if req.Timeout > MaxTimeout {
		return errors.New(errors.KindValidation, fmt.Sprintf("timeout override exceeds %s", MaxTimeout), nil)
	}

	if req.Retry != nil {
		if err := req.Retry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
