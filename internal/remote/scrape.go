package remote

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/translator"
)

// MatchRow finds the list row holding the same date and interval as the
// translated appointment and returns its code. List times are normalised the
// same way as detail times, so 9:00 matches 0900.
func MatchRow(html string, sel Selectors, appt domain.RemoteAppointment) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false, fmt.Errorf("parse list: %w", err)
	}

	var code string
	doc.Find(sel.Row).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		date := translator.StripSeparators(row.Find(sel.RowDate).First().Text())
		start := translator.RemoteTime(row.Find(sel.RowStart).First().Text())
		end := translator.RemoteTime(row.Find(sel.RowEnd).First().Text())

		if date != appt.Date || start != appt.StartTime || end != appt.EndTime {
			return true
		}

		code = strings.TrimSpace(row.AttrOr(sel.RowCode, ""))
		return code == ""
	})

	return code, code != "", nil
}
