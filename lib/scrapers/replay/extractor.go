package replay

import (
	"context"
	"fmt"

	"royaledata/lib/pipeline"
)

// SessionFactory yields freshly constructed replay sessions, each
// loading the stored auth state anew.
func SessionFactory(opts SessionOptions) pipeline.Factory {
	return func(ctx context.Context) (pipeline.Session, error) {
		return NewSession(ctx, opts)
	}
}

// Extractor turns one replay tag into its reconciled event rows.
type Extractor struct{}

func (Extractor) Extract(ctx context.Context, session pipeline.Session, unit pipeline.WorkUnit) ([]*pipeline.Record, error) {
	s, ok := session.(*Session)
	if !ok {
		return nil, pipeline.Permanent(fmt.Errorf("session is not a replay session: %T", session))
	}
	return s.FetchReplay(ctx, unit.ID)
}
