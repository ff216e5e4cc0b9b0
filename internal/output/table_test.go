package output

import (
	"strings"
	"testing"
)

func TestVisualLen(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"plain", "backup-20260101", 15},
		{"color", "\x1b[31mfailed\x1b[0m", 6},
		{"stacked sequences", "\x1b[1m\x1b[34mok\x1b[0m", 2},
		{"multibyte", "✓ ok", 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := visualLen(tc.input); got != tc.want {
				t.Errorf("visualLen(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		input string
		width int
		want  int
	}{
		{"ok", 6, 6},
		{"failed", 6, 6},
		{"rolled back", 4, 11}, // never truncates
		{"\x1b[31mred\x1b[0m", 6, 6},
	}
	for _, tc := range tests {
		if got := visualLen(pad(tc.input, tc.width)); got != tc.want {
			t.Errorf("visualLen(pad(%q, %d)) = %d, want %d", tc.input, tc.width, got, tc.want)
		}
	}
}

func TestTable_RenderAligned(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	tbl := NewTable("STEP", "RESULT")
	tbl.AddRow("npm run lint:fix", "ok")
	tbl.AddRow("build", "failed")

	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), tbl)
	}
	if !strings.Contains(lines[1], "─") {
		t.Errorf("rule line = %q", lines[1])
	}
	// Second column starts at the same offset on every line.
	col := strings.Index(lines[0], "RESULT")
	for _, l := range []string{lines[2], lines[3]} {
		if got := strings.IndexAny(l[col:], "of"); got != 0 {
			t.Errorf("row %q not aligned at column %d", l, col)
		}
	}
	if tbl.String() != tbl.Render() {
		t.Error("String() != Render()")
	}
}

func TestTable_EmptyHeaders(t *testing.T) {
	if got := NewTable().Render(); got != "" {
		t.Errorf("expected empty output, got %q", got)
	}
}

func TestTable_ShortRowPadsCells(t *testing.T) {
	SetNoColor(true)
	defer SetNoColor(false)

	tbl := NewTable("ID", "REASON", "SIZE")
	tbl.AddRow("backup-1")
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tbl.Len())
	}
	lines := strings.Split(strings.TrimRight(tbl.Render(), "\n"), "\n")
	if !strings.HasPrefix(lines[2], "backup-1") {
		t.Errorf("data row = %q", lines[2])
	}
}

func TestSetNoColor(t *testing.T) {
	SetNoColor(true)
	if !IsNoColor() {
		t.Fatal("IsNoColor() = false after SetNoColor(true)")
	}
	if rendered := StyleHeader.Render("test"); strings.Contains(rendered, "\x1b[") {
		t.Errorf("expected no ANSI codes with color disabled, got %q", rendered)
	}
	SetNoColor(false)
	if IsNoColor() {
		t.Error("IsNoColor() = true after SetNoColor(false)")
	}
}
