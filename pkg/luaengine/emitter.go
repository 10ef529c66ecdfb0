package luaengine

import (
	"fmt"

	"github.com/sambeau/sorrel/pkg/script"
)

// Emitter generates the Lua statements for page literals and output
// expressions.
type Emitter struct{}

// Literal writes entry index of the literal table. Lua tables count from one.
func (Emitter) Literal(index int) string {
	return fmt.Sprintf("Response.Write(%s[%d])", script.LiteralsName, index+1)
}

func (Emitter) Output(expr string) string {
	return "Response.Write(" + expr + ")"
}
