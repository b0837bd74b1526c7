// Package export writes KPI series to spreadsheet workbooks for the
// people who want their numbers in Excel.
package export

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/tietoa/kpi-cli/internal/model"
	"github.com/tietoa/kpi-cli/internal/series"
)

const dateLayout = "2006-01-02"

// WriteTotals writes the daily totals to an xlsx workbook at path. When
// diagnostics are given they land on a second sheet.
func WriteTotals(path string, totals []series.Total, diagnostics []model.Record) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("totals")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range []string{"date", "user", "subtype", "value"} {
		header.AddCell().SetString(h)
	}
	for _, t := range totals {
		row := sheet.AddRow()
		row.AddCell().SetString(t.Date.Format(dateLayout))
		row.AddCell().SetString(t.User)
		row.AddCell().SetString(string(t.Subtype))
		row.AddCell().SetFloat(t.Value)
	}

	if len(diagnostics) > 0 {
		diag, err := f.AddSheet("diagnostics")
		if err != nil {
			return eris.Wrap(err, "export: add sheet")
		}
		header := diag.AddRow()
		for _, h := range []string{"case", "phase", "reason", "owner", "sold_by"} {
			header.AddCell().SetString(h)
		}
		for _, r := range diagnostics {
			row := diag.AddRow()
			row.AddCell().SetString(r.FirstName)
			row.AddCell().SetString(r.Phase)
			row.AddCell().SetString(string(r.Subtype))
			row.AddCell().SetString(r.User)
			row.AddCell().SetString(r.SoldBy)
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "export: save workbook")
	}
	return nil
}
