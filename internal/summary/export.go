package summary

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	conciliation "conciliation-cloud/internal/conciliation/domain"
)

// BuildReportPDF renders a monthly conciliation report as a PDF.
func BuildReportPDF(rollup MonthlyRollup, daily []conciliation.DailyAggregate) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Conciliation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Tenant: %s", rollup.TenantID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s/%s", rollup.BankCode, rollup.AccTail))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Month: %s", rollup.Month))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Matched (bank): %.2f", rollup.APIMatchedAbs))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Matched (ledger): %.2f", rollup.ERPMatchedAbs))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Unreconciled total: %.2f", rollup.UnrecTotalAbs))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Unreconciled diff: %.2f", rollup.UnrecDiff))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(28, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Bank matched", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Ledger matched", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Bank unrec", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Ledger unrec", "1", 0, "C", false, 0, "")
	pdf.CellFormat(32, 6, "Diff", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, agg := range daily {
		pdf.CellFormat(28, 6, agg.Date.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(32, 6, fmt.Sprintf("%.2f", agg.APIMatchedAbs), "1", 0, "R", false, 0, "")
		pdf.CellFormat(32, 6, fmt.Sprintf("%.2f", agg.ERPMatchedAbs), "1", 0, "R", false, 0, "")
		pdf.CellFormat(32, 6, fmt.Sprintf("%.2f", agg.APIUnrecAbs), "1", 0, "R", false, 0, "")
		pdf.CellFormat(32, 6, fmt.Sprintf("%.2f", agg.ERPUnrecAbs), "1", 0, "R", false, 0, "")
		pdf.CellFormat(32, 6, fmt.Sprintf("%.2f", agg.UnrecDiff), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReportXLSX renders a monthly conciliation report as an XLSX workbook.
func BuildReportXLSX(rollup MonthlyRollup, daily []conciliation.DailyAggregate) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	dailySheet := "daily"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(dailySheet)

	_ = f.SetCellValue(summarySheet, "A1", "Conciliation Report")
	_ = f.SetCellValue(summarySheet, "A3", "Tenant")
	_ = f.SetCellValue(summarySheet, "B3", rollup.TenantID)
	_ = f.SetCellValue(summarySheet, "A4", "Bank")
	_ = f.SetCellValue(summarySheet, "B4", rollup.BankCode)
	_ = f.SetCellValue(summarySheet, "A5", "Account Tail")
	_ = f.SetCellValue(summarySheet, "B5", rollup.AccTail)
	_ = f.SetCellValue(summarySheet, "A6", "Month")
	_ = f.SetCellValue(summarySheet, "B6", rollup.Month)
	_ = f.SetCellValue(summarySheet, "A7", "Matched (bank)")
	_ = f.SetCellValue(summarySheet, "B7", rollup.APIMatchedAbs)
	_ = f.SetCellValue(summarySheet, "A8", "Matched (ledger)")
	_ = f.SetCellValue(summarySheet, "B8", rollup.ERPMatchedAbs)
	_ = f.SetCellValue(summarySheet, "A9", "Unreconciled (bank)")
	_ = f.SetCellValue(summarySheet, "B9", rollup.APIUnrecAbs)
	_ = f.SetCellValue(summarySheet, "A10", "Unreconciled (ledger)")
	_ = f.SetCellValue(summarySheet, "B10", rollup.ERPUnrecAbs)
	_ = f.SetCellValue(summarySheet, "A11", "Unreconciled total")
	_ = f.SetCellValue(summarySheet, "B11", rollup.UnrecTotalAbs)
	_ = f.SetCellValue(summarySheet, "A12", "Unreconciled diff")
	_ = f.SetCellValue(summarySheet, "B12", rollup.UnrecDiff)

	_ = f.SetCellValue(dailySheet, "A1", "Date")
	_ = f.SetCellValue(dailySheet, "B1", "Bank matched")
	_ = f.SetCellValue(dailySheet, "C1", "Ledger matched")
	_ = f.SetCellValue(dailySheet, "D1", "Bank unreconciled")
	_ = f.SetCellValue(dailySheet, "E1", "Ledger unreconciled")
	_ = f.SetCellValue(dailySheet, "F1", "Unreconciled total")
	_ = f.SetCellValue(dailySheet, "G1", "Diff")
	for i, agg := range daily {
		row := i + 2
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("A%d", row), agg.Date.Format("2006-01-02"))
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("B%d", row), agg.APIMatchedAbs)
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("C%d", row), agg.ERPMatchedAbs)
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("D%d", row), agg.APIUnrecAbs)
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("E%d", row), agg.ERPUnrecAbs)
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("F%d", row), agg.UnrecTotalAbs)
		_ = f.SetCellValue(dailySheet, fmt.Sprintf("G%d", row), agg.UnrecDiff)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
