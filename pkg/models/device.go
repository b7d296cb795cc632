package models

import "time"

// Device is the logical twin of a controllable device. Properties holds the
// last persisted logical state per property name; the wire protocol that
// applies commands to the physical device is a collaborator concern.
type Device struct {
	DomainID   string         `json:"domain_id" validate:"required"`
	ID         string         `json:"id"        validate:"required"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// PropertyValue returns the current logical value of a property, or nil.
func (d *Device) PropertyValue(property string) any {
	if d.Properties == nil {
		return nil
	}

	return d.Properties[property]
}
