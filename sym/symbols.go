// Package sym defines the glyphs nex prints in CLI output and log lines.
// They are stable across commands and documentation.
package sym

// Stage glyphs.
const (
	AM = "≡" // am: configuration
	IX = "⨳" // ix: ingest (extract and aggregate stages)
	NE = "⋈" // ne: named entities and their counters
	UP = "⇡" // upload: bulk loader
)

// System infrastructure glyphs.
const (
	Pulse      = "꩜" // async jobs and workers
	PulseOpen  = "✿" // startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
)

// entry binds a glyph to the command that owns it.
type entry struct {
	glyph   string
	command string
	desc    string
}

var table = []entry{
	{AM, "am", "configuration"},
	{IX, "ix", "ingest stages and jobs"},
	{NE, "counts", "entity counters"},
	{UP, "upload", "bulk loader"},
	{Pulse, "serve", "async workers"},
	{DB, "db", "database"},
}

// SymbolToCommand maps a glyph to its CLI command.
var SymbolToCommand = func() map[string]string {
	m := make(map[string]string, len(table))
	for _, e := range table {
		m[e.glyph] = e.command
	}
	return m
}()

// CommandToSymbol maps a CLI command to its glyph.
var CommandToSymbol = func() map[string]string {
	m := make(map[string]string, len(table))
	for _, e := range table {
		m[e.command] = e.glyph
	}
	return m
}()

// Describe returns the short description of a glyph, or "" if unknown.
func Describe(glyph string) string {
	for _, e := range table {
		if e.glyph == glyph {
			return e.desc
		}
	}
	return ""
}
