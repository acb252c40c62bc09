package output

import (
	"fmt"
	"testing"

	"github.com/sourcegraph/go-lsp"
	"github.com/stretchr/testify/assert"
)

var diags = []lsp.Diagnostic{
	{
		Range: lsp.Range{
			Start: lsp.Position{Line: 41, Character: 22},
			End:   lsp.Position{Line: 41, Character: 27},
		},
		Severity: lsp.Warning,
		Code:     "PossiblyNullReference",
		Source:   "psalm",
		Message:  "psalm: PossiblyNullReference. Cannot call method getId on possibly null value (See https://psalm.dev/083)",
	},
	{
		Range:    lsp.Range{Start: lsp.Position{Line: 0, Character: 0}},
		Severity: lsp.Warning,
		Source:   "psalm",
		Message:  "psalm: ParseError. Syntax error (See https://psalm.dev/173)",
	},
}

func TestDiagnostics(t *testing.T) {
	p := Printer{}
	assert.Equal(t, "src/Invoice.php:42:23: warning: psalm: PossiblyNullReference. Cannot call method getId on possibly null value (See https://psalm.dev/083) [PossiblyNullReference]\n"+
		"src/Invoice.php:1:1: warning: psalm: ParseError. Syntax error (See https://psalm.dev/173)\n",
		p.Diagnostics("src/Invoice.php", diags))
}

func TestDiagnosticsNone(t *testing.T) {
	assert.Equal(t, "", Printer{}.Diagnostics("src/Invoice.php", nil))
}

func TestDiagnosticsColoured(t *testing.T) {
	s := Printer{Coloured: true}.Diagnostics("src/Invoice.php", diags)
	assert.Contains(t, s, "src/Invoice.php:42:23:")
	assert.Contains(t, s, "Cannot call method getId on possibly null value")
}

func TestFailure(t *testing.T) {
	assert.Equal(t, "src/Invoice.php: error: service \"php\" is not running\n",
		Printer{}.Failure("src/Invoice.php", fmt.Errorf(`service "php" is not running`)))
}

func TestSummary(t *testing.T) {
	p := Printer{}
	assert.Equal(t, "Linted 1 file, 0 issues\n", p.Summary(1, 0, 0))
	assert.Equal(t, "Linted 3 files, 1 issue\n", p.Summary(3, 1, 0))
	assert.Equal(t, "Linted 1,200 files, 2 issues, 1 failed\n", p.Summary(1200, 2, 1))
}
