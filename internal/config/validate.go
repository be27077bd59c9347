// SentinelDesk - Ticket Management with IAM/RBAC and Intrusion Detection
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for structural and semantic errors.
// Struct-tag rules run first, then cross-field rules that tags cannot
// express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", ve.Namespace(), ve.Tag())
		}
		return err
	}

	if c.Detection.BusinessHoursStart >= c.Detection.BusinessHoursEnd {
		return fmt.Errorf("detection.business_hours_start (%d) must be before business_hours_end (%d)",
			c.Detection.BusinessHoursStart, c.Detection.BusinessHoursEnd)
	}
	if c.Detection.AuthFailWindow <= 0 || c.Detection.DeniedWindow <= 0 {
		return errors.New("detection windows must be positive durations")
	}
	if c.Auth.Mode == "basic" && (c.Auth.AdminUsername == "" || c.Auth.AdminPasswordHash == "") {
		return errors.New("auth.mode=basic requires admin_username and admin_password_hash")
	}
	if c.Notify.WebhookEnabled && c.Notify.WebhookURL == "" {
		return errors.New("notify.webhook_enabled requires webhook_url")
	}
	return nil
}
