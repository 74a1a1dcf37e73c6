package database

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/danproc/qrverify/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Plan{},
		&models.User{},
		&models.VerificationToken{},
		&models.AcceptanceRecord{},
		&models.UsageCounter{},
	)
}

// SeedPlans populates the default billing tiers. Existing rows are left
// untouched so billing-side edits survive restarts.
func SeedPlans(db *gorm.DB) error {
	plans := []models.Plan{
		{
			ID:           "free",
			Name:         "Free",
			MonthlyQuota: 50,
		},
		{
			ID:           "pro",
			Name:         "Pro",
			MonthlyQuota: 1000,
			Features: datatypes.NewJSONType(models.PlanFeatures{
				CustomLogo:  true,
				BatchExport: true,
			}),
		},
		{
			ID:           "business",
			Name:         "Business",
			MonthlyQuota: models.UnlimitedQuota,
			Features: datatypes.NewJSONType(models.PlanFeatures{
				CustomLogo:   true,
				BatchExport:  true,
				PrioritySend: true,
			}),
		},
	}

	for _, plan := range plans {
		if err := db.Where(models.Plan{ID: plan.ID}).Attrs(plan).FirstOrCreate(&models.Plan{}).Error; err != nil {
			return err
		}
	}

	return nil
}
