package replay

import (
	"context"
	"encoding/json"
	"fmt"

	"royaledata/lib/pipeline"

	"go.opentelemetry.io/otel/codes"
)

type replayResponse struct {
	Success bool   `json:"success"`
	Html    string `json:"html"`
}

// FetchReplay loads one replay's event timeline. A body that fails to
// decode as json is a blocking interstitial, so besides being retried
// it invalidates the session it came from.
func (s *Session) FetchReplay(ctx context.Context, tag string) ([]*pipeline.Record, error) {
	ctx, span := tracer.Start(ctx, "session:FetchReplay")
	defer span.End()

	res, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("tag", tag).
		Get("/data/replay")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch replay")
		return nil, pipeline.Transient(err)
	}

	status := res.StatusCode()
	if status == 429 || status >= 500 {
		span.SetStatus(codes.Error, "throttled or server error")
		return nil, pipeline.InvalidateSession(
			pipeline.Transient(fmt.Errorf("HTTP %d for replay %s", status, tag)))
	}
	if !res.IsSuccess() {
		span.SetStatus(codes.Error, "replay not servable")
		return nil, pipeline.Permanent(fmt.Errorf("HTTP %d for replay %s", status, tag))
	}

	var data replayResponse
	err = json.Unmarshal(res.Body(), &data)
	if err != nil {
		span.SetStatus(codes.Error, "body is not json")
		return nil, pipeline.InvalidateSession(fmt.Errorf(
			"failed to decode json for %s: %w; body (truncated): %s",
			tag, err, truncate(res.String(), 200),
		))
	}

	if !data.Success {
		span.SetStatus(codes.Error, "replay api returned success=false")
		return nil, pipeline.Permanent(fmt.Errorf("replay api returned success=false for %s", tag))
	}
	if data.Html == "" {
		span.SetStatus(codes.Error, "no html field")
		return nil, pipeline.Permanent(fmt.Errorf("no 'html' field in json for %s", tag))
	}

	return ParseReplay(data.Html, tag)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
