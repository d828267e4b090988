package models

import "gorm.io/gorm"

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&CatalogWindow{},
		&FolioSequence{},
		&Request{}, &RequestLine{}, &RequestHistory{},
		&InventoryLot{}, &StockSummary{},
		&Exit{}, &AllocationLine{},
		&NotificationOutbox{},
		&ReconciliationReport{},
	)
}
