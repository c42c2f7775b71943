package reports

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Resumen"
	filterSheet  = "Filtro"
)

// ReadingsHeader 读数报表表头
var ReadingsHeader = []string{
	"Sensor ID",
	"Sensor",
	"Unidad",
	"Lecturas",
	"Mínimo",
	"Máximo",
	"Promedio",
	"Primera lectura",
	"Última lectura",
}

var readingsColumnWidths = []float64{10, 28, 10, 12, 12, 12, 12, 22, 22}

// WriteXLSX 将读数报表写为 Excel 文件
func WriteXLSX(report *ReadingsReport, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}
	index, err := f.GetSheetIndex(summarySheet)
	if err != nil {
		return fmt.Errorf("failed to locate sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range ReadingsHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(summarySheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(summarySheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(summarySheet, name, name, readingsColumnWidths[col]); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, st := range report.Sensors {
		row := []any{
			st.Sensor,
			st.SensorNombre,
			st.Unidad,
			st.Count,
			st.Min,
			st.Max,
			st.Avg,
			formatTime(st.First),
			formatTime(st.Last),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := writeFilterSheet(f, report); err != nil {
		return err
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func writeFilterSheet(f *excelize.File, report *ReadingsReport) error {
	if _, err := f.NewSheet(filterSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	rows := [][]any{
		{"Dispositivo", report.Filter.Device},
		{"Sensor", report.Filter.Sensor},
		{"Fecha desde", report.Filter.DateFrom},
		{"Fecha hasta", report.Filter.DateTo},
		{"Generado", report.GeneratedAt.Format(time.RFC3339)},
		{"Total", report.Total},
		{"Procesadas", report.Scanned},
		{"Truncado", report.Truncated},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(filterSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write filter row: %w", err)
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
