package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// stampScore is one per-credential value of a scoring response. The legacy
// shape is a bare number or numeric string; the detailed shape is an object
// carrying the deduplication flag and expiry.
type stampScore struct {
	score     decimal.Decimal
	dedup     bool
	expiresAt *time.Time
	detailed  bool
}

func (s *stampScore) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("empty stamp score")
	}

	if b[0] != '{' {
		v, err := parseScoreValue(b)
		if err != nil {
			return err
		}
		*s = stampScore{score: v}
		return nil
	}

	var detailed struct {
		Score          json.RawMessage `json:"score"`
		Dedup          bool            `json:"dedup"`
		ExpirationDate *string         `json:"expiration_date"`
	}
	if err := json.Unmarshal(b, &detailed); err != nil {
		return fmt.Errorf("detailed stamp score: %w", err)
	}
	if len(detailed.Score) == 0 {
		return fmt.Errorf("detailed stamp score has no score")
	}

	v, err := parseScoreValue(detailed.Score)
	if err != nil {
		return err
	}
	*s = stampScore{score: v, dedup: detailed.Dedup, detailed: true}

	if detailed.ExpirationDate != nil && *detailed.ExpirationDate != "" {
		if t, err := time.Parse(time.RFC3339Nano, *detailed.ExpirationDate); err == nil {
			t = t.UTC()
			s.expiresAt = &t
		}
	}
	return nil
}

func parseScoreValue(b []byte) (decimal.Decimal, error) {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return decimal.Decimal{}, fmt.Errorf("null stamp score")
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return decimal.Decimal{}, fmt.Errorf("stamp score string: %w", err)
		}
		b = []byte(str)
	}
	v, err := decimal.NewFromString(string(b))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("stamp score %q: %w", b, err)
	}
	return v, nil
}

// NormalizeStampScores turns the per-credential scores of a response into one
// entry per provider. Each key is decoded by its own shape, so a response may
// mix both. When a provider appears in both maps the detailed value wins.
// Keys whose value cannot be decoded are returned in skipped, sorted.
func NormalizeStampScores(resp *model.ScoringResponse) (entries map[string]model.CredentialScoreEntry, skipped []string) {
	entries = make(map[string]model.CredentialScoreEntry, len(resp.StampScores)+len(resp.Stamps))
	detailed := make(map[string]bool)

	apply := func(raw map[string]json.RawMessage) {
		for provider, msg := range raw {
			var s stampScore
			if bytes.Equal(bytes.TrimSpace(msg), []byte("null")) {
				skipped = append(skipped, provider)
				continue
			}
			if err := json.Unmarshal(msg, &s); err != nil {
				skipped = append(skipped, provider)
				continue
			}
			if detailed[provider] && !s.detailed {
				continue
			}
			detailed[provider] = s.detailed
			entries[provider] = model.CredentialScoreEntry{
				ProviderName:   provider,
				RawScore:       s.score,
				IsDeduplicated: s.dedup,
				ExpiresAt:      s.expiresAt,
			}
		}
	}

	apply(resp.StampScores)
	apply(resp.Stamps)

	sort.Strings(skipped)
	return entries, skipped
}

// AggregateByPlatform totals points per platform. Possible points sum the
// declared weight of every provider; earned points sum the raw score of the
// entries that were not deduplicated. A platform is verified when it earned
// points or holds a verified credential, even one deduplicated to zero.
func AggregateByPlatform(
	entries map[string]model.CredentialScoreEntry,
	platforms []model.Platform,
	weights model.ProviderWeights,
	credentials []model.OffChainCredential,
) []model.PlatformScore {
	verified := make(map[string]bool, len(credentials))
	for _, c := range credentials {
		if c.Verified {
			verified[c.ProviderName] = true
		}
	}

	scores := make([]model.PlatformScore, 0, len(platforms))
	for _, p := range platforms {
		ps := model.PlatformScore{
			PlatformID:            p.ID,
			Name:                  p.Name,
			Description:           p.Description,
			PossiblePoints:        decimal.Zero,
			DisplayPossiblePoints: decimal.Zero,
			EarnedPoints:          decimal.Zero,
		}

		hasVerified := false
		for _, provider := range p.Providers {
			w := weights[provider.Name]
			ps.PossiblePoints = ps.PossiblePoints.Add(w)
			if !provider.Deprecated {
				ps.DisplayPossiblePoints = ps.DisplayPossiblePoints.Add(w)
			}

			if e, ok := entries[provider.Name]; ok {
				ps.EarnedPoints = ps.EarnedPoints.Add(e.EarnedScore())
				if e.IsDeduplicated {
					ps.IsDeduplicated = true
				}
			}
			if verified[provider.Name] {
				hasVerified = true
			}
		}

		ps.IsVerified = ps.EarnedPoints.IsPositive() || hasVerified
		scores = append(scores, ps)
	}

	return scores
}
