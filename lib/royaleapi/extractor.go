package royaleapi

import (
	"context"
	"fmt"

	"royaledata/lib/pipeline"
)

// apiSession wraps the shared token-authenticated client. The client
// itself holds no per-session navigation state, but wrapping it keeps
// the pool's usage budget and exclusive-ownership contract intact.
type apiSession struct {
	client *Client
}

func (apiSession) Close() {}

// SessionFactory yields sessions backed by one shared API client.
func SessionFactory(c *Client) pipeline.Factory {
	return func(ctx context.Context) (pipeline.Session, error) {
		return &apiSession{client: c}, nil
	}
}

func clientOf(session pipeline.Session) (*Client, error) {
	s, ok := session.(*apiSession)
	if !ok {
		return nil, pipeline.Permanent(fmt.Errorf("session is not an api session: %T", session))
	}
	return s.client, nil
}

// MemberExtractor turns one clan tag into that clan's member roster.
// Carried metadata (country) is propagated into every row.
type MemberExtractor struct{}

func (MemberExtractor) Extract(ctx context.Context, session pipeline.Session, unit pipeline.WorkUnit) ([]*pipeline.Record, error) {
	client, err := clientOf(session)
	if err != nil {
		return nil, err
	}

	members, err := client.ClanMembers(ctx, unit.ID)
	if err != nil {
		return nil, err
	}

	records := make([]*pipeline.Record, 0, len(members))
	for _, m := range members {
		rec := pipeline.NewRecord()
		rec.Set("clan_tag", unit.ID)
		for _, meta := range unit.Meta {
			rec.Set(meta.Key, meta.Value)
		}
		rec.Set("player_tag", m.Tag)
		rec.Set("expLevel", m.ExpLevel)
		rec.Set("trophies", m.Trophies)
		rec.Set("arena_id", m.Arena.ID)
		rec.Set("arena_name", m.Arena.Name)
		records = append(records, rec)
	}
	return records, nil
}

// BattleExtractor turns one player tag into that player's flattened
// battle log rows plus a derived win/loss/draw column.
type BattleExtractor struct{}

func (BattleExtractor) Extract(ctx context.Context, session pipeline.Session, unit pipeline.WorkUnit) ([]*pipeline.Record, error) {
	client, err := clientOf(session)
	if err != nil {
		return nil, err
	}

	battles, err := client.PlayerBattleLog(ctx, unit.ID)
	if err != nil {
		return nil, err
	}

	records := make([]*pipeline.Record, 0, len(battles))
	for _, battle := range battles {
		rec := pipeline.NewRecord()
		rec.Set("player_tag", unit.ID)
		for _, meta := range unit.Meta {
			rec.Set(meta.Key, meta.Value)
		}
		result, ok := battle.Result(unit.ID)
		if ok {
			rec.Set("result", result)
		} else {
			rec.Set("result", nil)
		}
		battle.Flatten(rec)
		records = append(records, rec)
	}
	return records, nil
}
