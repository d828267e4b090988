package main

import (
	"fmt"

	"github.com/mmdatafocus/procurement_backend/workflow"
	"github.com/xuri/excelize/v2"
)

const driftSheet = "Drift"

var driftHeaders = []string{"CheckType", "WarehouseId", "ProductId", "StockSummaryId", "LotId", "LotQty", "AllocatedQty", "ExpectedQty", "CurrentQty"}

func buildDriftWorkbook(drifts []workflow.Drift) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", driftSheet); err != nil {
		return nil, err
	}
	for i, h := range driftHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(driftSheet, cell, h); err != nil {
			return nil, err
		}
	}
	for i, d := range drifts {
		row := []interface{}{d.CheckType, d.WarehouseId, d.ProductId, d.StockSummaryId, d.LotId, d.LotQty, d.AllocatedQty, d.ExpectedQty, d.CurrentQty}
		if err := f.SetSheetRow(driftSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func writeDriftWorkbook(drifts []workflow.Drift, path string) error {
	f, err := buildDriftWorkbook(drifts)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.SaveAs(path)
}
