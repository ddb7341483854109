package sqlfile

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// SQLFileLexer splits a query file into whole lines. Statement text is never
// tokenized further.
var SQLFileLexer = lexer.MustSimple([]lexer.SimpleRule{
	// Query annotation (must come before plain comments)
	{Name: "Annotation", Pattern: `[ \t]*--[ \t]*name:[^\r\n]*`},
	{Name: "Comment", Pattern: `[ \t]*--[^\r\n]*`},

	{Name: "EOL", Pattern: `\r?\n`},
	{Name: "Line", Pattern: `[^\r\n]+`},
})
