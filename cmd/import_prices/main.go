package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"formulacost/internal/config"
	"formulacost/internal/db"
	applog "formulacost/internal/log"
	"formulacost/internal/pricing"
	"formulacost/models"
)

// priceRow is one line of the daily price sheet. material_name is optional
// and only used to register codes missing from the catalog.
type priceRow struct {
	PriceDate    string `csv:"price_date"`
	MaterialCode string `csv:"material_code"`
	MaterialName string `csv:"material_name"`
	UnitPrice    string `csv:"unit_price"`
}

func main() {
	csvPath := "prices.csv"
	if len(os.Args) > 1 {
		csvPath = os.Args[1]
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	if err := run(context.Background(), csvPath); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, csvPath string) error {
	if strings.TrimSpace(csvPath) == "" {
		return fmt.Errorf("csv path must not be empty")
	}

	file, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	rows, err := readPrices(file)
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(database); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	imported, err := importPrices(ctx, database, rows)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %d prices from %s\n", imported, filepath.Base(csvPath))
	return nil
}

func readPrices(r io.Reader) ([]priceRow, error) {
	var rows []priceRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("csv has no price rows")
	}
	return rows, nil
}

// importPrices registers unknown materials that carry a name and upserts
// every price in one transaction. Re-importing a day overwrites it, and a
// (date, code) repeated in the file keeps its last price.
func importPrices(ctx context.Context, database *gorm.DB, rows []priceRow) (int, error) {
	prices := make([]models.DailyMaterialPrice, 0, len(rows))
	named := make(map[string]struct{})
	var catalog []models.Material
	for idx, row := range rows {
		code := strings.TrimSpace(row.MaterialCode)
		price, err := decimal.NewFromString(strings.TrimSpace(row.UnitPrice))
		if err != nil {
			return 0, fmt.Errorf("record %d (%s): invalid unit_price %q: %w", idx+1, code, row.UnitPrice, err)
		}
		prices = append(prices, models.DailyMaterialPrice{
			PriceDate:    strings.TrimSpace(row.PriceDate),
			MaterialCode: code,
			UnitPrice:    price,
		})
		if name := strings.TrimSpace(row.MaterialName); name != "" && code != "" {
			if _, ok := named[code]; !ok {
				named[code] = struct{}{}
				catalog = append(catalog, models.Material{Code: code, Name: name})
			}
		}
	}

	var written int
	err := database.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(catalog) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "code"}},
				DoNothing: true,
			}).Create(&catalog).Error; err != nil {
				return fmt.Errorf("register materials: %w", err)
			}
		}
		n, err := pricing.NewReader(tx).Upsert(ctx, prices)
		written = n
		return err
	})
	if err != nil {
		return 0, err
	}

	applog.Info(ctx, "daily prices imported", "rows", written)
	return written, nil
}
