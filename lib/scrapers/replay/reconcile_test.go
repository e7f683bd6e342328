package replay

import (
	"testing"

	"royaledata/lib/pipeline"

	"github.com/stretchr/testify/require"
)

const replayHtml = `
<div class="replay_container">
  <div class="replay_team team_blue">
    <img class="replay_card" data-card="knight" data-s="blue" data-t="12" data-ability="0"
         src="https://cdn.royaleapi.com/static/img/cards-150/knight.png"/>
    <img class="replay_card" data-card="royal-ghost" data-s="blue" data-t="87" data-ability="1"
         src="https://cdn.royaleapi.com/static/img/cards-150/ability-royal-ghost.png"/>
  </div>
  <div class="replay_team team_red">
    <img class="replay_card" data-card="musketeer" data-s="red" data-t="34" data-ability="0"
         src="https://cdn.royaleapi.com/static/img/cards-150/musketeer.png"/>
  </div>
  <div class="markers">
    <div data-x="9000" data-y="14000" data-t="34"></div>
    <div data-x="3500" data-y="6500" data-t="12"></div>
    <div data-x="" data-y="" data-t="87"></div>
  </div>
</div>`

func TestParseReplay(t *testing.T) {
	records, err := ParseReplay(replayHtml, "2QV0UY9JG")
	require.NoError(t, err)
	require.Len(t, records, 3)

	// merged timeline comes out ascending by time with positions
	// aligned to the matching card events
	type row struct {
		card string
		side string
		time string
		x    any
	}
	var rows []row
	for _, rec := range records {
		tag, _ := rec.Get("replay_tag")
		require.Equal(t, "2QV0UY9JG", tag)

		card, _ := rec.Get("card_name")
		side, _ := rec.Get("side")
		time, _ := rec.Get("time")
		x, _ := rec.Get("x")
		rows = append(rows, row{card: card.(string), side: side.(string), time: time.(string), x: x})
	}

	require.Equal(t, []row{
		{card: "knight", side: "blue", time: "12", x: "3500"},
		{card: "musketeer", side: "red", time: "34", x: "9000"},
		{card: "ability-royal-ghost", side: "blue", time: "87", x: nil},
	}, rows)
}

func TestParseReplayRecordShape(t *testing.T) {
	records, err := ParseReplay(replayHtml, "TAG")
	require.NoError(t, err)

	// the replay identifier leads every row so resumed runs can find
	// their checkpoint in the output
	require.Equal(t,
		[]string{"replay_tag", "side", "time", "isAbility", "card_name", "x", "y"},
		records[0].Keys(),
	)
}

func TestReconcileLengthMismatch(t *testing.T) {
	cards := []CardEvent{
		{CardName: "knight", Time: "10"},
		{CardName: "archers", Time: "20"},
	}
	placements := []PlacementEvent{
		{X: "1", Y: "2", Time: "10"},
	}

	_, err := Reconcile("TAG", cards, placements)
	require.Equal(t, pipeline.KindReconciliation, pipeline.KindOf(err))
	require.Contains(t, err.Error(), "length mismatch for replay TAG (cards 2 vs placements 1)")
}

func TestReconcileTimeMismatch(t *testing.T) {
	cards := []CardEvent{
		{CardName: "knight", Time: "10"},
		{CardName: "archers", Time: "25"},
	}
	placements := []PlacementEvent{
		{X: "1", Y: "2", Time: "10"},
		{X: "3", Y: "4", Time: "20"},
	}

	_, err := Reconcile("TAG", cards, placements)
	require.Equal(t, pipeline.KindReconciliation, pipeline.KindOf(err))
	require.Contains(t, err.Error(), "index 1: 25 vs 20")
}

func TestParseReplayNonNumericTime(t *testing.T) {
	html := `<div class="replay_team">
	  <img class="replay_card" data-card="knight" data-t="soon" data-ability="0" src="knight.png"/>
	</div>
	<div class="markers"><div data-x="1" data-y="2" data-t="10"></div></div>`

	_, err := ParseReplay(html, "TAG")
	require.Equal(t, pipeline.KindReconciliation, pipeline.KindOf(err))
	require.Contains(t, err.Error(), `non-numeric time "soon"`)
}

func TestParseReplayEmpty(t *testing.T) {
	records, err := ParseReplay(`<div class="markers"></div>`, "TAG")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestAbilityName(t *testing.T) {
	testCases := []struct {
		src      string
		expected string
	}{
		{
			src:      "https://cdn.royaleapi.com/static/img/cards-150/ability-royal-ghost.png",
			expected: "ability-royal-ghost",
		},
		{
			src:      "/img/ability-heal-spirit.png?v=2",
			expected: "ability-heal-spirit",
		},
	}

	for _, test := range testCases {
		require.Equal(t, test.expected, abilityName(test.src))
	}
}
