package domain

import (
	"encoding/json"
	"fmt"
)

// NewsAnalysis is the structured output one provider item must conform to.
// Providers validate results against this schema before marking an item
// successful; a validation failure is an item-level analysis failure.
type NewsAnalysis struct {
	Sentiment       Sentiment        `json:"sentiment"`
	Framing         Framing          `json:"framing"`
	Entities        []Entity         `json:"entities"`
	Events          []Event          `json:"events"`
	EntityRelations []EntityRelation `json:"entity_relations"`
	EventRelations  []EventRelation  `json:"event_relations"`
	Signals         Signals          `json:"signals"`
	Category        string           `json:"category_normalized"`
}

type Sentiment struct {
	Polarity  int    `json:"polarity"`  // -10..10
	Intensity int    `json:"intensity"` // 1..10
	Tone      string `json:"tone"`
}

type Framing struct {
	Angle         string `json:"angle"`
	NarrativeType string `json:"narrative_type"`
}

type Entity struct {
	Name            string `json:"name"`
	NameNormalized  string `json:"name_normalized"`
	Type            string `json:"type"`
	Role            string `json:"role"`
	SentimentToward int    `json:"sentiment_toward"` // -10..10
}

type Event struct {
	TopicNormalized    string   `json:"topic_normalized"`
	NameNormalized     string   `json:"name_normalized"`
	SubEventNormalized string   `json:"sub_event_normalized"`
	Tags               []string `json:"tags"`
	Type               string   `json:"type"`
	IsMain             bool     `json:"is_main"`
	EventTime          string   `json:"event_time"` // YYYY-MM-DD or empty
	ArticleType        string   `json:"article_type"`
	TemporalCues       []string `json:"temporal_cues"`
}

type EntityRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

type EventRelation struct {
	Entity string `json:"entity"`
	Event  string `json:"event"`
	Type   string `json:"type"`
}

type Signals struct {
	IsExclusive   bool     `json:"is_exclusive"`
	IsOpinion     bool     `json:"is_opinion"`
	HasUpdate     bool     `json:"has_update"`
	KeyClaims     []string `json:"key_claims"` // at most 3
	ViralityScore int      `json:"virality_score"`
}

var (
	tones          = stringSet("neutral", "supportive", "critical", "sensational", "analytical")
	narrativeTypes = stringSet("conflict", "human_interest", "economic", "moral", "attribution", "procedural")
	entityTypes    = stringSet("person", "organization", "location", "product", "concept")
	entityRoles    = stringSet("subject", "object", "source", "mentioned")
	eventTypes     = stringSet(
		"policy", "scandal", "legal", "election", "disaster", "protest",
		"business", "international", "society", "entertainment", "sports",
		"technology", "health", "environment", "crime", "other")
	articleTypes = stringSet("breaking", "first_report", "follow_up", "retrospective", "analysis", "standard")
	entityRelTypes = stringSet(
		"supports", "opposes", "member_of", "leads", "allied_with", "conflicts_with", "related_to")
	eventRelTypes = stringSet(
		"accused_in", "victim_in", "investigates", "comments_on", "causes", "responds_to", "involved_in")
	categories = stringSet(
		"politics", "business", "technology", "entertainment", "sports",
		"society", "international", "local", "opinion", "lifestyle",
		"health", "education", "environment", "crime", "other")
)

func stringSet(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// ParseNewsAnalysis decodes and validates a raw provider payload.
func ParseNewsAnalysis(raw string) (NewsAnalysis, error) {
	var analysis NewsAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return NewsAnalysis{}, fmt.Errorf("decode analysis: %w", err)
	}
	if err := analysis.Validate(); err != nil {
		return NewsAnalysis{}, err
	}
	return analysis, nil
}

// Validate enforces the boundary contract for provider output.
func (a NewsAnalysis) Validate() error {
	if a.Sentiment.Polarity < -10 || a.Sentiment.Polarity > 10 {
		return fmt.Errorf("sentiment.polarity %d out of range [-10,10]", a.Sentiment.Polarity)
	}
	if a.Sentiment.Intensity < 1 || a.Sentiment.Intensity > 10 {
		return fmt.Errorf("sentiment.intensity %d out of range [1,10]", a.Sentiment.Intensity)
	}
	if !tones[a.Sentiment.Tone] {
		return fmt.Errorf("unknown sentiment tone %q", a.Sentiment.Tone)
	}
	if !narrativeTypes[a.Framing.NarrativeType] {
		return fmt.Errorf("unknown narrative type %q", a.Framing.NarrativeType)
	}
	for _, ent := range a.Entities {
		if !entityTypes[ent.Type] {
			return fmt.Errorf("entity %q: unknown type %q", ent.Name, ent.Type)
		}
		if !entityRoles[ent.Role] {
			return fmt.Errorf("entity %q: unknown role %q", ent.Name, ent.Role)
		}
		if ent.SentimentToward < -10 || ent.SentimentToward > 10 {
			return fmt.Errorf("entity %q: sentiment_toward %d out of range", ent.Name, ent.SentimentToward)
		}
	}
	for _, evt := range a.Events {
		if !eventTypes[evt.Type] {
			return fmt.Errorf("event %q: unknown type %q", evt.NameNormalized, evt.Type)
		}
		if !articleTypes[evt.ArticleType] {
			return fmt.Errorf("event %q: unknown article type %q", evt.NameNormalized, evt.ArticleType)
		}
	}
	for _, rel := range a.EntityRelations {
		if !entityRelTypes[rel.Type] {
			return fmt.Errorf("entity relation %s->%s: unknown type %q", rel.Source, rel.Target, rel.Type)
		}
	}
	for _, rel := range a.EventRelations {
		if !eventRelTypes[rel.Type] {
			return fmt.Errorf("event relation %s->%s: unknown type %q", rel.Entity, rel.Event, rel.Type)
		}
	}
	if len(a.Signals.KeyClaims) > 3 {
		return fmt.Errorf("signals.key_claims has %d entries, max 3", len(a.Signals.KeyClaims))
	}
	if a.Signals.ViralityScore < 1 || a.Signals.ViralityScore > 10 {
		return fmt.Errorf("signals.virality_score %d out of range [1,10]", a.Signals.ViralityScore)
	}
	if !categories[a.Category] {
		return fmt.Errorf("unknown category %q", a.Category)
	}
	return nil
}
