// Package csvio parses bulk upload CSVs and serializes job results.
package csvio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

// Kind selects the CSV schema
type Kind string

const (
	KindVerify Kind = "verify"
	KindFind   Kind = "find"
)

// Filter values for result downloads
const (
	FilterAll      = "all"
	FilterValid    = "valid"
	FilterRisky    = "risky"
	FilterInvalid  = "invalid"
	FilterFound    = "found"
	FilterNotFound = "not_found"
)

// ParseError describes a rejected upload
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string {
	return e.Message
}

// Row is one input row. PreInvalid carries a verdict decided at parse
// time for rows that must not reach the network.
type Row struct {
	Index  int
	Fields []string

	// Verify rows
	Email string

	// Find rows
	Query finder.Query

	PreInvalid *RowVerdict
}

// RowVerdict is a verdict assigned without probing
type RowVerdict struct {
	Status verifier.Status
	Reason string
}

// RowSet is a parsed upload
type RowSet struct {
	Kind   Kind
	Header []string
	Rows   []Row
}

// ParseVerify parses a verification upload. The email column is matched
// case-insensitively; extra columns are preserved for the result CSV.
func ParseVerify(r io.Reader, maxRows int) (*RowSet, error) {
	header, records, err := readAll(r, maxRows)
	if err != nil {
		return nil, err
	}

	emailCol := findColumn(header, "email")
	if emailCol < 0 {
		return nil, &ParseError{Message: "CSV must contain an 'email' column"}
	}

	set := &RowSet{Kind: KindVerify, Header: header, Rows: make([]Row, 0, len(records))}
	for i, record := range records {
		row := Row{Index: i, Fields: record}
		if emailCol < len(record) {
			row.Email = strings.TrimSpace(record[emailCol])
		}
		if row.Email == "" {
			row.PreInvalid = &RowVerdict{Status: verifier.StatusInvalid, Reason: verifier.ReasonEmptyEmail}
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}

// ParseFind parses a discovery upload with firstname, lastname and
// domain columns.
func ParseFind(r io.Reader, maxRows int) (*RowSet, error) {
	header, records, err := readAll(r, maxRows)
	if err != nil {
		return nil, err
	}

	cols := map[string]int{
		"firstname": findColumn(header, "firstname"),
		"lastname":  findColumn(header, "lastname"),
		"domain":    findColumn(header, "domain"),
	}
	for _, name := range []string{"firstname", "lastname", "domain"} {
		if cols[name] < 0 {
			return nil, &ParseError{Message: fmt.Sprintf("CSV must contain a '%s' column", name)}
		}
	}

	set := &RowSet{Kind: KindFind, Header: header, Rows: make([]Row, 0, len(records))}
	for i, record := range records {
		row := Row{Index: i, Fields: record}
		row.Query = finder.Query{
			Firstname: field(record, cols["firstname"]),
			Lastname:  field(record, cols["lastname"]),
			Domain:    field(record, cols["domain"]),
		}
		if row.Query.Firstname == "" || row.Query.Lastname == "" || row.Query.Domain == "" {
			row.PreInvalid = &RowVerdict{Reason: finder.ReasonMissingData}
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}

func readAll(r io.Reader, maxRows int) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, &ParseError{Message: "CSV file is empty"}
	}
	if err != nil {
		return nil, nil, &ParseError{Message: fmt.Sprintf("invalid CSV: %v", err)}
	}

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, &ParseError{Message: fmt.Sprintf("invalid CSV: %v", err)}
		}
		records = append(records, record)
	}

	if len(records) == 0 {
		return nil, nil, &ParseError{Message: "CSV contains no data rows"}
	}
	if len(records) > maxRows {
		return nil, nil, &ParseError{
			Message: fmt.Sprintf("CSV contains %d rows, the maximum is %d", len(records), maxRows),
		}
	}

	return header, records, nil
}

func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// WriteVerifyResults writes the filtered result CSV for a verify job.
// Input columns come first, then status and reason; row order matches
// the upload.
func WriteVerifyResults(w io.Writer, header []string, rows []Row, results []verifier.Result, filter string) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(append(append([]string{}, header...), "status", "reason")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		if i >= len(results) {
			break
		}
		res := results[i]
		if !matchesVerifyFilter(res.Status, filter) {
			continue
		}
		record := append(append([]string{}, row.Fields...), string(res.Status), res.Reason)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", row.Index, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteFindResults writes the filtered result CSV for a find job
func WriteFindResults(w io.Writer, header []string, rows []Row, results []finder.Result, filter string) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(append(append([]string{}, header...), "found_email", "reason")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		if i >= len(results) {
			break
		}
		res := results[i]
		if !matchesFindFilter(res.FoundEmail, filter) {
			continue
		}
		record := append(append([]string{}, row.Fields...), res.FoundEmail, res.Reason)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", row.Index, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// matchesVerifyFilter reports whether a verdict passes the download
// filter. Unknown filters behave like "all".
func matchesVerifyFilter(status verifier.Status, filter string) bool {
	switch filter {
	case FilterValid:
		return status == verifier.StatusValid
	case FilterRisky:
		return status == verifier.StatusRisky
	case FilterInvalid:
		return status == verifier.StatusInvalid
	default:
		return true
	}
}

func matchesFindFilter(foundEmail, filter string) bool {
	switch filter {
	case FilterFound:
		return foundEmail != ""
	case FilterNotFound:
		return foundEmail == ""
	default:
		return true
	}
}

// Template returns the header-only CSV template for a job kind
func Template(kind Kind) (string, bool) {
	switch kind {
	case KindVerify:
		return "email\n", true
	case KindFind:
		return "firstname,lastname,domain\n", true
	default:
		return "", false
	}
}
