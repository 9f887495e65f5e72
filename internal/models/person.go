// Package models defines the domain types for rollcall.
package models

import "fmt"

// PersonRecord is one row of the enrollment registry.
type PersonRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	ImagePath   string `json:"image_path"`
}

// Label returns the identity label used for matching and attendance.
func (p PersonRecord) Label() string {
	return fmt.Sprintf("%s - %s", p.ID, p.DisplayName)
}
