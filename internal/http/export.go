package http

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/example/smartfeeder/internal/application"
	"github.com/example/smartfeeder/internal/feeding"
	"github.com/xuri/excelize/v2"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheetName = "Schedules"
)

// ScheduleExportHeader lists the workbook columns in order.
var ScheduleExportHeader = []string{
	"Schedule ID",
	"Interval",
	"Days",
	"Start Date",
	"End Date",
	"Session Time",
	"Feed Amount (kg)",
	"Total Daily (kg)",
	"Active",
	"Next Feeding (UTC)",
}

var exportColumnWidths = []float64{38, 12, 24, 12, 12, 12, 16, 16, 8, 22}

// GenerateScheduleExport renders schedules as an XLSX workbook with one row
// per feeding session.
func GenerateScheduleExport(statuses []application.ScheduleStatus) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
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
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for col, header := range ScheduleExportHeader {
		if err := setCellValue(f, col+1, 1, header); err != nil {
			f.Close()
			return nil, err
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(exportSheetName, name, name, exportColumnWidths[col]); err != nil {
			f.Close()
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(ScheduleExportHeader), 1)
	if err := f.SetCellStyle(exportSheetName, "A1", lastHeader, headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("set header style: %w", err)
	}

	row := 2
	for _, status := range statuses {
		for _, values := range exportRows(status) {
			for col, value := range values {
				if value == nil {
					continue
				}
				if err := setCellValue(f, col+1, row, value); err != nil {
					f.Close()
					return nil, err
				}
			}
			row++
		}
	}

	if err := f.SetPanes(exportSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRows(status application.ScheduleStatus) [][]any {
	schedule := status.Schedule

	var end any
	if schedule.EndDate != nil {
		end = schedule.EndDate.Format(dateLayout)
	}
	var next any
	if status.NextOccurrence != nil {
		next = status.NextOccurrence.UTC().Format("2006-01-02 15:04")
	}
	active := "No"
	if status.Active {
		active = "Yes"
	}

	rows := make([][]any, 0, len(schedule.Sessions))
	for _, session := range schedule.Sessions {
		rows = append(rows, []any{
			schedule.ID,
			string(schedule.Interval),
			formatDays(schedule),
			schedule.StartDate.Format(dateLayout),
			end,
			session.Time,
			session.FeedAmount,
			status.TotalDailyAmount,
			active,
			next,
		})
	}
	return rows
}

func formatDays(schedule application.Schedule) string {
	if schedule.Interval == feeding.IntervalDaily {
		return "every day"
	}
	names := make([]string, 0, len(schedule.DaysOfWeek))
	for _, day := range schedule.DaysOfWeek {
		names = append(names, time.Weekday(day).String()[:3])
	}
	return strings.Join(names, ", ")
}

func setCellValue(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetCellValue(exportSheetName, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}
