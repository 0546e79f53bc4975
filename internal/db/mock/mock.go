package mock

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	applog "formulacost/internal/log"
	"formulacost/models"
)

// Demo login for the seeded workspace.
const (
	DemoEmail    = "buyer@formulacost.local"
	DemoPassword = "optimize"
)

// New returns an in-memory sqlite database seeded with a formula that has a
// cheaper substitution available on today's prices.
func New(ctx context.Context) (*gorm.DB, error) {
	applog.Debug(ctx, "initialising mock database")

	db, err := gorm.Open(sqlite.Open("file:formulacost-mock?mode=memory&cache=shared"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		PrepareStmt:                              true,
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, err
	}

	var users int64
	if err := db.WithContext(ctx).Model(&models.User{}).Count(&users).Error; err != nil {
		return nil, err
	}
	if users == 0 {
		if err := seed(ctx, db, time.Now()); err != nil {
			return nil, err
		}
	}

	applog.Debug(ctx, "mock database ready")
	return db, nil
}

func seed(ctx context.Context, db *gorm.DB, today time.Time) error {
	applog.Debug(ctx, "seeding mock database")

	password, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user := &models.User{Name: "Demo Buyer", Email: DemoEmail, PasswordHash: string(password)}
		if err := tx.Create(user).Error; err != nil {
			return err
		}

		materials := []models.Material{
			{Code: "PVC-K65", Name: "PVC resin K65", Model: "SG-5"},
			{Code: "PVC-K67", Name: "PVC resin K67", Model: "SG-3"},
			{Code: "DOP", Name: "Dioctyl phthalate", Model: "Industrial"},
			{Code: "DOTP", Name: "Dioctyl terephthalate", Model: "Industrial"},
			{Code: "CACO3", Name: "Calcium carbonate", Model: "1250 mesh"},
			{Code: "CACO3-L", Name: "Light calcium carbonate", Model: "800 mesh"},
		}
		if err := tx.Create(&materials).Error; err != nil {
			return err
		}

		date := models.DateKey(today)
		prices := []models.DailyMaterialPrice{
			{PriceDate: date, MaterialCode: "PVC-K65", UnitPrice: decimal.RequireFromString("6.10"), ImportDate: today},
			{PriceDate: date, MaterialCode: "PVC-K67", UnitPrice: decimal.RequireFromString("5.80"), ImportDate: today},
			{PriceDate: date, MaterialCode: "DOP", UnitPrice: decimal.RequireFromString("9.40"), ImportDate: today},
			{PriceDate: date, MaterialCode: "DOTP", UnitPrice: decimal.RequireFromString("8.90"), ImportDate: today},
			{PriceDate: date, MaterialCode: "CACO3", UnitPrice: decimal.RequireFromString("0.62"), ImportDate: today},
			{PriceDate: date, MaterialCode: "CACO3-L", UnitPrice: decimal.RequireFromString("0.45"), ImportDate: today},
		}
		if err := tx.Create(&prices).Error; err != nil {
			return err
		}

		resins := models.MaterialGroup{Name: "PVC resins", Description: "Suspension grade PVC"}
		if err := tx.Create(&resins).Error; err != nil {
			return err
		}
		members := []models.GroupMember{
			{GroupID: resins.ID, MaterialCode: "PVC-K65", ConversionFactor: decimal.NewFromInt(1), Priority: 0},
			{GroupID: resins.ID, MaterialCode: "PVC-K67", ConversionFactor: decimal.RequireFromString("1.02"), Priority: 1},
		}
		if err := tx.Create(&members).Error; err != nil {
			return err
		}

		rules := []models.Substitution{
			{SourceCode: "DOP", TargetCode: "DOTP", ConversionFactor: decimal.RequireFromString("1.05"), MaxRatio: decimal.RequireFromString("0.6"), Notes: "non-phthalate plasticizer"},
			{SourceCode: "CACO3", TargetCode: "CACO3-L", ConversionFactor: decimal.RequireFromString("1.1"), MaxRatio: decimal.RequireFromString("0.3"), Notes: "coarser filler, cap at 30%"},
		}
		if err := tx.Create(&rules).Error; err != nil {
			return err
		}

		formula := models.Formula{
			QuotationNo:         "Q-2024-001",
			DocumentDate:        date,
			ProductCode:         "FLEX-HOSE-20",
			ProductName:         "Flexible PVC hose compound",
			CustomerProductName: "Garden hose 20mm",
			FormulaType:         models.FormulaTypeQuotation,
			Materials: []models.FormulaMaterial{
				{Position: 1, MaterialCode: "PVC-K65", MaterialName: "PVC resin K65", MaterialModel: "SG-5", UsageRatio: decimal.RequireFromString("0.55")},
				{Position: 2, MaterialCode: "DOP", MaterialName: "Dioctyl phthalate", MaterialModel: "Industrial", UsageRatio: decimal.RequireFromString("0.30")},
				{Position: 3, MaterialCode: "CACO3", MaterialName: "Calcium carbonate", MaterialModel: "1250 mesh", UsageRatio: decimal.RequireFromString("0.15")},
			},
		}
		return tx.Create(&formula).Error
	})
}
