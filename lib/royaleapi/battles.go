package royaleapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"royaledata/lib/pipeline"

	"go.opentelemetry.io/otel/codes"
)

// Battle is one raw battle log entry as returned by the API.
type Battle map[string]any

// PlayerBattleLog fetches the recent battles of one player.
func (c *Client) PlayerBattleLog(ctx context.Context, playerTag string) ([]Battle, error) {
	ctx, span := tracer.Start(ctx, "client:PlayerBattleLog")
	defer span.End()

	path := fmt.Sprintf("/players/%s/battlelog", url.PathEscape(playerTag))
	res, err := c.get(ctx, path, nil)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch battle log")
		return nil, err
	}

	var battles []Battle
	err = json.Unmarshal(res.Body(), &battles)
	if err != nil {
		span.SetStatus(codes.Error, "failed to decode battle log")
		return nil, pipeline.Permanent(err)
	}
	return battles, nil
}

// Result derives win/loss/draw from the player's crowns against the
// first opponent's. ok is false when either side is missing crowns.
func (b Battle) Result(playerTag string) (string, bool) {
	team, _ := b["team"].([]any)
	opponent, _ := b["opponent"].([]any)

	var playerSide map[string]any
	for _, entry := range team {
		side, ok := entry.(map[string]any)
		if ok && side["tag"] == playerTag {
			playerSide = side
			break
		}
	}
	if playerSide == nil && len(team) > 0 {
		playerSide, _ = team[0].(map[string]any)
	}

	var opponentSide map[string]any
	if len(opponent) > 0 {
		opponentSide, _ = opponent[0].(map[string]any)
	}

	crownsFor, okFor := crowns(playerSide)
	crownsAgainst, okAgainst := crowns(opponentSide)
	if !okFor || !okAgainst {
		return "", false
	}

	switch {
	case crownsFor > crownsAgainst:
		return "win", true
	case crownsFor < crownsAgainst:
		return "loss", true
	default:
		return "draw", true
	}
}

func crowns(side map[string]any) (float64, bool) {
	if side == nil {
		return 0, false
	}
	n, ok := side["crowns"].(float64)
	return n, ok
}

// Flatten writes every nested field of the battle into rec as a
// single-level column, `arena.id` / `team[0].tag` style. Keys are
// emitted in sorted order at each level so column sets stay
// deterministic across runs.
func (b Battle) Flatten(rec *pipeline.Record) {
	flattenValue(rec, "", map[string]any(b))
}

func flattenValue(rec *pipeline.Record, parent string, v any) {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			key := k
			if parent != "" {
				key = parent + "." + k
			}
			flattenValue(rec, key, value[k])
		}
	case []any:
		for i, item := range value {
			flattenValue(rec, fmt.Sprintf("%s[%d]", parent, i), item)
		}
	default:
		if parent != "" {
			rec.Set(parent, value)
		}
	}
}
