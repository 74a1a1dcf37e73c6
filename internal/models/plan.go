package models

import (
	"time"

	"gorm.io/datatypes"
)

// UnlimitedQuota is the sentinel meaning no monthly cap.
const UnlimitedQuota int64 = -1

// PlanFeatures enumerates optional capabilities attached to a plan.
type PlanFeatures struct {
	CustomLogo   bool `json:"custom_logo"`
	BatchExport  bool `json:"batch_export"`
	PrioritySend bool `json:"priority_send"`
}

// Plan describes a billing tier. Plans are read-only to the gating core;
// billing manages them out of band.
type Plan struct {
	ID   string `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`

	// MonthlyQuota is the cap on codes per billing period, or
	// UnlimitedQuota for no cap.
	MonthlyQuota int64 `gorm:"not null" json:"monthly_quota"`

	Features datatypes.JSONType[PlanFeatures] `json:"features"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Unlimited reports whether the plan has no monthly cap.
func (p *Plan) Unlimited() bool {
	return p.MonthlyQuota == UnlimitedQuota
}
