package royaleapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"royaledata/lib/pipeline"

	"go.opentelemetry.io/otel/codes"
)

type Clan struct {
	Tag              string `json:"tag"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	ClanScore        int    `json:"clanScore"`
	Members          int    `json:"members"`
	RequiredTrophies int    `json:"requiredTrophies"`
}

type clanPage struct {
	Items  []Clan `json:"items"`
	Paging struct {
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
	} `json:"paging"`
}

// ClansByLocation walks the cursor-paginated clan listing of one
// location (e.g. 57000120 for Italy) until the cursor runs out.
func (c *Client) ClansByLocation(ctx context.Context, locationID int) ([]Clan, error) {
	ctx, span := tracer.Start(ctx, "client:ClansByLocation")
	defer span.End()

	var all []Clan
	after := ""

	for {
		query := map[string]string{
			"locationId": fmt.Sprint(locationID),
			"limit":      "100",
		}
		if after != "" {
			query["after"] = after
		}

		res, err := c.get(ctx, "/clans", query)
		if err != nil {
			span.SetStatus(codes.Error, "failed to fetch clan page")
			return nil, err
		}

		var page clanPage
		err = json.Unmarshal(res.Body(), &page)
		if err != nil {
			span.SetStatus(codes.Error, "failed to decode clan page")
			return nil, pipeline.Permanent(err)
		}

		all = append(all, page.Items...)
		slog.DebugContext(ctx, "fetched clan page",
			"location", locationID, "page_size", len(page.Items), "total", len(all))

		after = page.Paging.Cursors.After
		if after == "" {
			return all, nil
		}
		err = sleepCtx(ctx, politeDelay)
		if err != nil {
			return nil, pipeline.Transient(err)
		}
	}
}

type Member struct {
	Tag      string `json:"tag"`
	ExpLevel int    `json:"expLevel"`
	Trophies int    `json:"trophies"`
	Arena    Arena  `json:"arena"`
}

type Arena struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ClanMembers fetches the full member roster of one clan.
func (c *Client) ClanMembers(ctx context.Context, clanTag string) ([]Member, error) {
	ctx, span := tracer.Start(ctx, "client:ClanMembers")
	defer span.End()

	// '#GPP2PUGG' -> '%23GPP2PUGG'
	path := fmt.Sprintf("/clans/%s/members", url.PathEscape(clanTag))
	res, err := c.get(ctx, path, map[string]string{"limit": "50"})
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch clan members")
		return nil, err
	}

	var body struct {
		Items []Member `json:"items"`
	}
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		span.SetStatus(codes.Error, "failed to decode clan members")
		return nil, pipeline.Permanent(err)
	}
	return body.Items, nil
}
