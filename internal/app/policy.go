package app

import (
	"fmt"

	"lms-activity-service/internal/domain"
)

// ScoringPolicy turns the session score into the reported final score.
type ScoringPolicy int

const (
	// ScoreExact reports the number of correct answers.
	ScoreExact ScoringPolicy = iota
	// ScoreLegacyBonus reports one more than the number of correct answers, as the
	// letter and color games of the web client always did.
	ScoreLegacyBonus
)

func ParseScoringPolicy(raw string) (ScoringPolicy, error) {
	switch raw {
	case "", "exact":
		return ScoreExact, nil
	case "legacy-bonus":
		return ScoreLegacyBonus, nil
	default:
		return ScoreExact, fmt.Errorf("unknown scoring policy %q", raw)
	}
}

func (p ScoringPolicy) String() string {
	if p == ScoreLegacyBonus {
		return "legacy-bonus"
	}
	return "exact"
}

// FinalScore is not clamped: legacy-bonus can exceed the question count.
func (p ScoringPolicy) FinalScore(score int) int {
	if p == ScoreLegacyBonus {
		return score + 1
	}
	return score
}

// Policies maps each variant to its scoring policy. Missing variants score exactly.
type Policies map[domain.Variant]ScoringPolicy

func (p Policies) For(v domain.Variant) ScoringPolicy {
	if policy, ok := p[v]; ok {
		return policy
	}
	return ScoreExact
}

// ParsePolicies reads a content -> policy map as found in the config file.
func ParsePolicies(raw map[string]string) (Policies, error) {
	out := make(Policies, len(raw))
	for content, name := range raw {
		variant := domain.ParseVariant(content)
		if variant == domain.VariantUnknown {
			return nil, fmt.Errorf("scoring policy for %q: %w", content, domain.ErrUnknownVariant)
		}
		policy, err := ParseScoringPolicy(name)
		if err != nil {
			return nil, err
		}
		out[variant] = policy
	}
	return out, nil
}
