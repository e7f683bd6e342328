package replay

import (
	"sort"
	"strconv"
	"strings"

	"royaledata/lib/pipeline"

	"github.com/PuerkitoBio/goquery"
)

// CardEvent is one card-play entry from the replay team panel.
type CardEvent struct {
	CardName  string
	ImageSrc  string
	Side      string
	Time      string
	IsAbility string
}

// PlacementEvent is one board-position entry from the markers layer.
type PlacementEvent struct {
	X    string
	Y    string
	Time string
}

// ParseReplay extracts the two event sequences from a replay html
// fragment and reconciles them into one merged timeline.
func ParseReplay(html, tag string) ([]*pipeline.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, pipeline.Permanent(err)
	}

	var cards []CardEvent
	doc.Find("div.replay_team img.replay_card").Each(func(_ int, img *goquery.Selection) {
		cards = append(cards, CardEvent{
			CardName:  img.AttrOr("data-card", ""),
			ImageSrc:  img.AttrOr("src", ""),
			Side:      img.AttrOr("data-s", ""),
			Time:      img.AttrOr("data-t", ""),
			IsAbility: img.AttrOr("data-ability", ""),
		})
	})

	var placements []PlacementEvent
	doc.Find("div.markers > div").Each(func(_ int, div *goquery.Selection) {
		placements = append(placements, PlacementEvent{
			X:    div.AttrOr("data-x", ""),
			Y:    div.AttrOr("data-y", ""),
			Time: div.AttrOr("data-t", ""),
		})
	})

	err = sortByTime(tag, cards, func(e CardEvent) string { return e.Time })
	if err != nil {
		return nil, err
	}
	err = sortByTime(tag, placements, func(e PlacementEvent) string { return e.Time })
	if err != nil {
		return nil, err
	}

	return Reconcile(tag, cards, placements)
}

// sortByTime orders a sequence ascending by its numeric time index. A
// non-numeric time field breaks the alignment assumption, so it is a
// structural failure rather than something to retry.
func sortByTime[T any](tag string, events []T, timeOf func(T) string) error {
	type keyed struct {
		time  int
		event T
	}
	sorted := make([]keyed, len(events))
	for i, e := range events {
		t, err := strconv.Atoi(timeOf(e))
		if err != nil {
			return pipeline.Reconciliation(
				"non-numeric time %q in replay %s", timeOf(e), tag)
		}
		sorted[i] = keyed{time: t, event: e}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].time < sorted[j].time })
	for i := range sorted {
		events[i] = sorted[i].event
	}
	return nil
}

// Reconcile merges the paired sequences positionally. Both invariants
// must hold: equal length, and equal time index at every position.
func Reconcile(tag string, cards []CardEvent, placements []PlacementEvent) ([]*pipeline.Record, error) {
	if len(cards) != len(placements) {
		return nil, pipeline.Reconciliation(
			"length mismatch for replay %s (cards %d vs placements %d)",
			tag, len(cards), len(placements),
		)
	}

	records := make([]*pipeline.Record, 0, len(cards))
	for i := range cards {
		ce := cards[i]
		pe := placements[i]

		if ce.Time != pe.Time {
			return nil, pipeline.Reconciliation(
				"time mismatch for replay %s at index %d: %s vs %s",
				tag, i, ce.Time, pe.Time,
			)
		}

		rec := pipeline.NewRecord()
		rec.Set("replay_tag", tag)
		rec.Set("side", ce.Side)
		rec.Set("time", ce.Time)
		rec.Set("isAbility", ce.IsAbility)

		if ce.IsAbility == "1" {
			// abilities carry no board position and their name only
			// lives in the icon path
			rec.Set("card_name", abilityName(ce.ImageSrc))
			rec.Set("x", nil)
			rec.Set("y", nil)
		} else {
			rec.Set("card_name", ce.CardName)
			rec.Set("x", pe.X)
			rec.Set("y", pe.Y)
		}

		records = append(records, rec)
	}

	return records, nil
}

// abilityName derives a card name from an icon path like
// ".../cards/ability-royal-ghost.png" -> "ability-royal-ghost".
func abilityName(imageSrc string) string {
	parts := strings.Split(imageSrc, "ability-")
	token := parts[len(parts)-1]
	token, _, _ = strings.Cut(token, ".png")
	return "ability-" + token
}
