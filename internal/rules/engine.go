// Package rules implements the rule-based article filter. Evaluation is
// pure: the rule set and the force-include list are loaded once per run and
// no I/O happens while filtering.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"NewsPipeline/internal/domain"
)

// Config is the JSON payload of a filter rule, interpreted per rule type.
type Config struct {
	Keywords        []string `json:"keywords,omitempty"`
	Patterns        []string `json:"patterns,omitempty"`
	MatchFields     []string `json:"match_fields,omitempty"`
	ExcludeKeywords []string `json:"exclude_keywords,omitempty"`
	Categories      []string `json:"categories,omitempty"`
	SubCategories   []string `json:"sub_categories,omitempty"`
}

// Outcome is the filter decision for one article.
type Outcome struct {
	Decision domain.FilterDecision
	RuleName string
	Reason   string
}

type compiledRule struct {
	rule     domain.FilterRule
	cfg      Config
	patterns []*regexp.Regexp
}

// Engine evaluates the ordered rule set against articles. The first
// matching rule rejects; no match passes; a force-include entry
// short-circuits to pass before any rule runs.
type Engine struct {
	rules []compiledRule
	force map[int64]bool
}

// NewEngine compiles active rules in order. Patterns are matched
// case-insensitively, mirroring how the rule set is authored.
func NewEngine(ruleset []domain.FilterRule, forceIncludes map[int64]bool) (*Engine, error) {
	engine := &Engine{force: forceIncludes}
	if engine.force == nil {
		engine.force = map[int64]bool{}
	}

	for _, rule := range ruleset {
		if !rule.Active {
			continue
		}

		var cfg Config
		if err := json.Unmarshal([]byte(rule.Config), &cfg); err != nil {
			return nil, fmt.Errorf("rule %s: parse config: %w", rule.Name, err)
		}

		compiled := compiledRule{rule: rule, cfg: cfg}
		for _, pattern := range cfg.Patterns {
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: compile pattern %q: %w", rule.Name, pattern, err)
			}
			compiled.patterns = append(compiled.patterns, re)
		}
		engine.rules = append(engine.rules, compiled)
	}

	return engine, nil
}

// Evaluate applies the force-include override and then each rule in order.
func (e *Engine) Evaluate(article domain.Article) Outcome {
	if e.force[article.ID] {
		return Outcome{
			Decision: domain.DecisionForceInclude,
			RuleName: "force_include",
			Reason:   "article is on the force-include list",
		}
	}

	for _, compiled := range e.rules {
		if e.matches(compiled, article) {
			return Outcome{
				Decision: domain.DecisionFilter,
				RuleName: compiled.rule.Name,
				Reason:   compiled.rule.Description,
			}
		}
	}

	return Outcome{Decision: domain.DecisionKeep, Reason: "passed all rule checks"}
}

// EvaluateAll fans evaluation out across workers. Outcomes are
// index-aligned with the input slice.
func (e *Engine) EvaluateAll(articles []domain.Article, workers int) []Outcome {
	outcomes := make([]Outcome, len(articles))
	if len(articles) == 0 {
		return outcomes
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(articles) {
		workers = len(articles)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range indexes {
				outcomes[i] = e.Evaluate(articles[i])
			}
		}()
	}
	for i := range articles {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return outcomes
}

func (e *Engine) matches(compiled compiledRule, article domain.Article) bool {
	switch compiled.rule.Type {
	case domain.RuleKeyword:
		return matchKeywords(compiled.cfg, article)
	case domain.RulePattern:
		return matchPatterns(compiled, article)
	case domain.RuleCategory:
		return matchCategories(compiled.cfg, article)
	}
	return false
}

func matchKeywords(cfg Config, article domain.Article) bool {
	for _, field := range matchFields(cfg) {
		value := fieldValue(article, field)
		for _, keyword := range cfg.Keywords {
			if strings.Contains(value, keyword) {
				return true
			}
		}
	}
	return false
}

func matchPatterns(compiled compiledRule, article domain.Article) bool {
	fields := matchFields(compiled.cfg)

	// An exclude keyword anywhere in the matched fields vetoes the rule.
	for _, field := range fields {
		value := fieldValue(article, field)
		for _, keyword := range compiled.cfg.ExcludeKeywords {
			if strings.Contains(value, keyword) {
				return false
			}
		}
	}

	for _, field := range fields {
		value := fieldValue(article, field)
		for _, re := range compiled.patterns {
			if re.MatchString(value) {
				return true
			}
		}
	}
	return false
}

func matchCategories(cfg Config, article domain.Article) bool {
	for _, category := range cfg.Categories {
		if article.Category != "" && article.Category == category {
			return true
		}
	}
	for _, sub := range cfg.SubCategories {
		if article.SubCategory != "" && article.SubCategory == sub {
			return true
		}
	}
	return false
}

func matchFields(cfg Config) []string {
	if len(cfg.MatchFields) == 0 {
		return []string{"title"}
	}
	return cfg.MatchFields
}

func fieldValue(article domain.Article, field string) string {
	switch field {
	case "title":
		return article.Title
	case "content":
		return article.Content
	case "summary":
		return article.Summary
	case "category":
		return article.Category
	case "sub_category":
		return article.SubCategory
	case "tags":
		return tagsAsText(article.Tags)
	}
	return ""
}

// marshalConfig serializes a rule config for persistence.
func marshalConfig(cfg Config) (string, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal rule config: %w", err)
	}
	return string(raw), nil
}

func tagsAsText(tags string) string {
	if tags == "" {
		return ""
	}
	var parsed []string
	if err := json.Unmarshal([]byte(tags), &parsed); err == nil {
		return strings.Join(parsed, " ")
	}
	return tags
}
