// Pinion Syncd - Support Dashboard Synchronization Core
// Copyright 2026 darking1222
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/darking1222/pinion-syncd

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance. Struct tags carry the rules.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags plus the
// cross-field rules the tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fieldPath(fe), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Realtime.ReconnectMax < cfg.Realtime.ReconnectInitial {
		return errors.New("invalid configuration: realtime.reconnect_max must be >= realtime.reconnect_initial")
	}
	if cfg.Transcript.PatchGrace < cfg.Transcript.PollInterval {
		// A grace period shorter than one poll cycle would expire every
		// patch before its first chance at confirmation.
		return errors.New("invalid configuration: transcript.patch_grace must be >= transcript.poll_interval")
	}
	return nil
}

// fieldPath renders a validator namespace like Config.Realtime.URL as
// realtime.url for error messages.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}
