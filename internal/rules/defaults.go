package rules

import "NewsPipeline/internal/domain"

// Defaults returns the built-in rule set seeded on first use. Operators can
// deactivate or extend rules afterwards; seeding never overwrites an
// existing rule with the same name.
func Defaults() []domain.FilterRule {
	return []domain.FilterRule{
		{
			Name:        "horoscope_filter",
			Description: "filters horoscope, tarot and fortune-telling content",
			Type:        domain.RuleKeyword,
			Active:      true,
			Config: mustConfig(Config{
				Keywords: []string{
					"horoscope", "daily horoscope", "weekly horoscope",
					"tarot", "fortune telling", "zodiac forecast",
				},
				MatchFields: []string{"title", "tags"},
			}),
		},
		{
			Name:        "lottery_filter",
			Description: "filters lottery draws and winning-number announcements",
			Type:        domain.RulePattern,
			Active:      true,
			Config: mustConfig(Config{
				Patterns: []string{
					`lottery.*(draw|results)`,
					`winning numbers`,
					`jackpot.*(winner|rolls over)`,
					`powerball.*numbers`,
				},
				MatchFields: []string{"title"},
			}),
		},
		{
			Name:        "advertorial_filter",
			Description: "filters advertorials and sponsored content",
			Type:        domain.RuleKeyword,
			Active:      true,
			Config: mustConfig(Config{
				Keywords: []string{
					"[ad]", "[sponsored]", "sponsored content",
					"advertorial", "paid partnership", "promoted post",
				},
				MatchFields: []string{"title"},
			}),
		},
		{
			Name:        "weather_routine_filter",
			Description: "filters routine weather forecasts, keeps extreme weather",
			Type:        domain.RulePattern,
			Active:      true,
			Config: mustConfig(Config{
				Patterns: []string{
					`(today|tomorrow|weekend)'?s? weather`,
					`weekly (weather )?forecast`,
					`weather forecast`,
				},
				MatchFields: []string{"title"},
				ExcludeKeywords: []string{
					"typhoon", "hurricane", "flood", "earthquake",
					"storm warning", "extreme", "evacuation",
				},
			}),
		},
	}
}

func mustConfig(cfg Config) string {
	raw, err := marshalConfig(cfg)
	if err != nil {
		panic(err)
	}
	return raw
}
