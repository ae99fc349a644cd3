package manifest

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

const schemaSource = `
#Manifest: {
	machine: {
		language: "loop" | "while" | "goto"
		trace:    bool
	}
	server: {
		addr: string & =~"^[^ ]*:[0-9]+$"
	}
	log: {
		verbosity: int & >=0 & <=5
		file:      string
	}
	history: {
		enabled: bool
		path:    string & !=""
		limit:   int & >=1
	}
}
`

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaDef  cue.Value
	schemaErr  error

	// cue values are not safe for concurrent evaluation.
	validateMu sync.Mutex
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource)
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		schemaDef = v.LookupPath(cue.ParsePath("#Manifest"))
		schemaErr = schemaDef.Err()
	})
	return schemaCtx, schemaDef, schemaErr
}

// Validate checks a manifest against the configuration schema.
func Validate(m *Manifest) error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}
	validateMu.Lock()
	defer validateMu.Unlock()

	v := def.Unify(ctx.Encode(m))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
