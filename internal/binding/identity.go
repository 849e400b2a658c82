package binding

import (
	"errors"
	"fmt"
	"strings"

	"scriptfilter/internal/interp"
)

// Delimiter separates the category from the entry point in a script's base
// name: <category>_script_<entrypoint>.star
const Delimiter = "_script_"

var ErrScriptMissing = errors.New("binding: no script configured")

// Identity is a parsed script file reference.
type Identity struct {
	Dir        string
	Base       string // file name without the canonical extension
	Ext        string // interp.Ext or empty
	Category   string
	Entrypoint string
}

// Module is the key the interpreter imports the script under.
func (id Identity) Module() string { return id.Base }

func (id Identity) IsZero() bool { return id.Base == "" }

func (id Identity) String() string { return id.Base }

// ParseIdentity derives an Identity from a configured file reference such as
// "/data/scripts/scale_script_addsum.star". The last occurrence of Delimiter
// splits category from entry point; both sides must be non-empty.
func ParseIdentity(ref string) (Identity, error) {
	ref = strings.TrimSpace(ref)
	var id Identity
	if i := strings.LastIndexAny(ref, `/\`); i >= 0 {
		id.Dir, ref = ref[:i], ref[i+1:]
	}
	if strings.HasSuffix(ref, interp.Ext) {
		id.Ext, ref = interp.Ext, strings.TrimSuffix(ref, interp.Ext)
	}
	id.Base = ref
	if id.Base == "" {
		return Identity{}, fmt.Errorf("%w: empty script name", ErrScriptMissing)
	}
	i := strings.LastIndex(id.Base, Delimiter)
	if i < 0 {
		return Identity{}, fmt.Errorf("%w: %q does not name an entry point (<category>%s<entrypoint>)", ErrScriptMissing, id.Base, Delimiter)
	}
	id.Category, id.Entrypoint = id.Base[:i], id.Base[i+len(Delimiter):]
	if id.Category == "" || id.Entrypoint == "" {
		return Identity{}, fmt.Errorf("%w: %q has an empty category or entry point", ErrScriptMissing, id.Base)
	}
	return id, nil
}
