package export

import (
	"fmt"
	"io"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/xuri/excelize/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

const rosterSheet = "Applicants"

// Filename returns a timestamped name for a roster download.
func Filename(now time.Time) string {
	return fmt.Sprintf("applicants_%s.xlsx", now.Format("2006-01-02_150405"))
}

// WriteApplicants renders the applicant roster as an xlsx workbook and
// writes it to w.
func WriteApplicants(w io.Writer, applicants []models.Applicant) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", rosterSheet)

	if err := buildRosterSheet(f, applicants); err != nil {
		return goerr.Wrap(err, "failed to build roster sheet")
	}

	if err := f.Write(w); err != nil {
		return goerr.Wrap(err, "failed to write workbook")
	}
	return nil
}

func buildRosterSheet(f *excelize.File, applicants []models.Applicant) error {
	// Set column widths
	f.SetColWidth(rosterSheet, "A", "A", 8)
	f.SetColWidth(rosterSheet, "B", "B", 25)
	f.SetColWidth(rosterSheet, "C", "C", 30)
	f.SetColWidth(rosterSheet, "D", "D", 16)
	f.SetColWidth(rosterSheet, "E", "E", 22)
	f.SetColWidth(rosterSheet, "F", "F", 16)
	f.SetColWidth(rosterSheet, "G", "G", 30)
	f.SetColWidth(rosterSheet, "H", "H", 40)
	f.SetColWidth(rosterSheet, "I", "I", 14)
	f.SetColWidth(rosterSheet, "J", "J", 20)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}

	linkStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "0563C1", Underline: "single"},
	})
	if err != nil {
		return err
	}

	headers := []string{"ID", "Name", "Email", "Phone", "Domain", "Status", "Education", "Job History", "Resume", "Applied On"}
	for col, header := range headers {
		cell := fmt.Sprintf("%s1", string(rune('A'+col)))
		f.SetCellValue(rosterSheet, cell, header)
		f.SetCellStyle(rosterSheet, cell, cell, headerStyle)
	}

	for i, a := range applicants {
		row := i + 2
		f.SetCellValue(rosterSheet, fmt.Sprintf("A%d", row), a.ID)
		f.SetCellValue(rosterSheet, fmt.Sprintf("B%d", row), a.Name)
		f.SetCellValue(rosterSheet, fmt.Sprintf("C%d", row), a.Email)
		f.SetCellValue(rosterSheet, fmt.Sprintf("D%d", row), a.Phone)
		f.SetCellValue(rosterSheet, fmt.Sprintf("E%d", row), a.Domain)
		f.SetCellValue(rosterSheet, fmt.Sprintf("F%d", row), a.Status)
		f.SetCellValue(rosterSheet, fmt.Sprintf("G%d", row), a.Education)
		f.SetCellValue(rosterSheet, fmt.Sprintf("H%d", row), a.JobHistory)

		if a.ResumeURL != "" {
			cell := fmt.Sprintf("I%d", row)
			f.SetCellValue(rosterSheet, cell, "Open Resume")
			f.SetCellHyperLink(rosterSheet, cell, a.ResumeURL, "External")
			f.SetCellStyle(rosterSheet, cell, cell, linkStyle)
		}

		if !a.CreatedAt.IsZero() {
			f.SetCellValue(rosterSheet, fmt.Sprintf("J%d", row), a.CreatedAt.Format("2006-01-02 15:04"))
		}
	}

	if len(applicants) > 0 {
		f.AutoFilter(rosterSheet, fmt.Sprintf("A1:J%d", len(applicants)+1), []excelize.AutoFilterOptions{})
	}

	// Freeze top row
	f.SetPanes(rosterSheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      0,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	return nil
}
