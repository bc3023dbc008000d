package csvio

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/mailprobe/mailprobe/internal/finder"
	"github.com/mailprobe/mailprobe/internal/verifier"
)

func TestParseVerify(t *testing.T) {
	input := "Email,Company\nalice@example.com,Acme\n,NoMail Inc\nbob@example.com,Globex\n"

	set, err := ParseVerify(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseVerify: %v", err)
	}

	if set.Kind != KindVerify {
		t.Errorf("Kind = %q, want verify", set.Kind)
	}
	if len(set.Rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(set.Rows))
	}
	if set.Rows[0].Email != "alice@example.com" {
		t.Errorf("row 0 email = %q", set.Rows[0].Email)
	}

	// The empty cell keeps its position and is tagged at parse time
	row := set.Rows[1]
	if row.PreInvalid == nil {
		t.Fatal("row 1 should be pre-invalid")
	}
	if row.PreInvalid.Reason != verifier.ReasonEmptyEmail {
		t.Errorf("row 1 reason = %q, want %q", row.PreInvalid.Reason, verifier.ReasonEmptyEmail)
	}
	if set.Rows[2].Email != "bob@example.com" {
		t.Errorf("row 2 email = %q", set.Rows[2].Email)
	}
}

func TestParseVerifyMissingColumn(t *testing.T) {
	input := "name,company\nAlice,Acme\n"

	_, err := ParseVerify(strings.NewReader(input), 1000)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "email") {
		t.Errorf("error %q should name the missing column", err.Error())
	}
}

func TestParseVerifyRowCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("email\n")
	for i := 0; i < 1001; i++ {
		fmt.Fprintf(&sb, "user%d@example.com\n", i)
	}

	_, err := ParseVerify(strings.NewReader(sb.String()), 1000)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "1001") {
		t.Errorf("error %q should name the offending row count", err.Error())
	}
}

func TestParseVerifyEmptyFile(t *testing.T) {
	for _, input := range []string{"", "email\n"} {
		if _, err := ParseVerify(strings.NewReader(input), 1000); err == nil {
			t.Errorf("input %q: expected error", input)
		}
	}
}

func TestParseFind(t *testing.T) {
	input := "FirstName,LastName,Domain\nJohn,Doe,example.com\nJane,,example.org\n"

	set, err := ParseFind(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseFind: %v", err)
	}

	if len(set.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(set.Rows))
	}

	q := set.Rows[0].Query
	if q.Firstname != "John" || q.Lastname != "Doe" || q.Domain != "example.com" {
		t.Errorf("row 0 query = %+v", q)
	}

	if set.Rows[1].PreInvalid == nil {
		t.Fatal("row 1 should be pre-invalid")
	}
	if set.Rows[1].PreInvalid.Reason != finder.ReasonMissingData {
		t.Errorf("row 1 reason = %q, want %q", set.Rows[1].PreInvalid.Reason, finder.ReasonMissingData)
	}
}

func TestParseFindMissingColumns(t *testing.T) {
	tests := []struct {
		header  string
		missing string
	}{
		{"lastname,domain", "firstname"},
		{"firstname,domain", "lastname"},
		{"firstname,lastname", "domain"},
	}

	for _, tt := range tests {
		t.Run(tt.missing, func(t *testing.T) {
			input := tt.header + "\na,b\n"
			_, err := ParseFind(strings.NewReader(input), 1000)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q should name column %q", err.Error(), tt.missing)
			}
		})
	}
}

func verifyFixture(t *testing.T) (*RowSet, []verifier.Result) {
	t.Helper()

	input := "email,company\nalice@example.com,Acme\nbob@example.com,Globex\ncarol@example.com,Initech\n"
	set, err := ParseVerify(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseVerify: %v", err)
	}

	results := []verifier.Result{
		{Email: "alice@example.com", Status: verifier.StatusValid, Reason: verifier.ReasonMailboxExists},
		{Email: "bob@example.com", Status: verifier.StatusInvalid, Reason: verifier.ReasonMailboxNotFound},
		{Email: "carol@example.com", Status: verifier.StatusRisky, Reason: verifier.ReasonCatchAllDomain},
	}
	return set, results
}

func TestWriteVerifyResultsAll(t *testing.T) {
	set, results := verifyFixture(t)

	var buf bytes.Buffer
	if err := WriteVerifyResults(&buf, set.Header, set.Rows, results, FilterAll); err != nil {
		t.Fatalf("WriteVerifyResults: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4: %q", len(lines), buf.String())
	}
	if lines[0] != "email,company,status,reason" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "alice@example.com,Acme,valid,mailbox_exists" {
		t.Errorf("row 1 = %q", lines[1])
	}
	if lines[2] != "bob@example.com,Globex,invalid,mailbox_not_found" {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestWriteVerifyResultsFiltered(t *testing.T) {
	tests := []struct {
		filter string
		want   int
	}{
		{FilterValid, 1},
		{FilterInvalid, 1},
		{FilterRisky, 1},
		{FilterAll, 3},
		{"bogus", 3}, // unknown filter behaves like all
	}

	set, results := verifyFixture(t)

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteVerifyResults(&buf, set.Header, set.Rows, results, tt.filter); err != nil {
				t.Fatalf("WriteVerifyResults: %v", err)
			}
			lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
			if got := len(lines) - 1; got != tt.want {
				t.Errorf("filter %q kept %d rows, want %d", tt.filter, got, tt.want)
			}
		})
	}
}

func TestWriteFindResults(t *testing.T) {
	input := "firstname,lastname,domain\nJohn,Doe,example.com\nJane,Roe,example.org\n"
	set, err := ParseFind(strings.NewReader(input), 1000)
	if err != nil {
		t.Fatalf("ParseFind: %v", err)
	}

	results := []finder.Result{
		{Firstname: "John", Lastname: "Doe", Domain: "example.com", FoundEmail: "john.doe@example.com", Reason: finder.ReasonPatternMatch},
		{Firstname: "Jane", Lastname: "Roe", Domain: "example.org", Reason: finder.ReasonNoValidPattern},
	}

	var buf bytes.Buffer
	if err := WriteFindResults(&buf, set.Header, set.Rows, results, FilterAll); err != nil {
		t.Fatalf("WriteFindResults: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "firstname,lastname,domain,found_email,reason" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "John,Doe,example.com,john.doe@example.com,pattern_match" {
		t.Errorf("row 1 = %q", lines[1])
	}
	// A miss leaves the found_email cell empty
	if lines[2] != "Jane,Roe,example.org,,no_valid_pattern" {
		t.Errorf("row 2 = %q", lines[2])
	}

	// found / not_found filters split the two rows
	buf.Reset()
	WriteFindResults(&buf, set.Header, set.Rows, results, FilterFound)
	if got := len(strings.Split(strings.TrimSpace(buf.String()), "\n")) - 1; got != 1 {
		t.Errorf("found filter kept %d rows, want 1", got)
	}

	buf.Reset()
	WriteFindResults(&buf, set.Header, set.Rows, results, FilterNotFound)
	if got := len(strings.Split(strings.TrimSpace(buf.String()), "\n")) - 1; got != 1 {
		t.Errorf("not_found filter kept %d rows, want 1", got)
	}
}

func TestTemplate(t *testing.T) {
	if tmpl, ok := Template(KindVerify); !ok || tmpl != "email\n" {
		t.Errorf("verify template = %q, %v", tmpl, ok)
	}
	if tmpl, ok := Template(KindFind); !ok || tmpl != "firstname,lastname,domain\n" {
		t.Errorf("find template = %q, %v", tmpl, ok)
	}
	if _, ok := Template(Kind("bogus")); ok {
		t.Error("unknown kind should not have a template")
	}
}
