package revlens

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"
)

// NegativeMode selects how star ratings and sentiment are combined into a
// negativity decision.
type NegativeMode string

const (
	ModeStarOnly       NegativeMode = "STAR_ONLY"
	ModeSentimentOnly  NegativeMode = "SENTIMENT_ONLY"
	ModeWeightedFusion NegativeMode = "WEIGHTED_FUSION"
)

// Sentiment labels produced by the sentiment collaborator.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Review is a single product review. Immutable once ingested. Time keeps the
// source export's timestamp verbatim; nothing downstream orders by it.
type Review struct {
	ID   string `json:"review_id"`
	Text string `json:"text"`
	Star *int   `json:"star,omitempty"` // 1-5, absent when the source had no rating
	ASIN string `json:"asin,omitempty"`
	Time string `json:"time,omitempty"`
}

// SentimentResult is the per-review output of the sentiment collaborator.
type SentimentResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"` // in [0,1]
}

// NegativityScore is the filter's per-review decision. KeepScore is the
// continuous fusion score under WEIGHTED_FUSION; in the boolean modes it is 1
// for negative reviews and 0 otherwise, so downstream means reduce to the
// negativity rate.
type NegativityScore struct {
	ReviewID    string  `json:"review_id"`
	Negative    bool    `json:"negative"`
	KeepScore   float64 `json:"keep_score"`
	MissingStar bool    `json:"missing_star,omitempty"` // diagnostic: star term contributed 0 under FUSION
}

// FilterConfig parameterizes the negative-review filter.
type FilterConfig struct {
	Mode          NegativeMode
	StarThreshold int
	ConfThreshold float64
	WStar         float64
	WSent         float64
	KeepThreshold float64
	Workers       int
}

// normStar maps a 1-5 star rating to [0,1] inversely: 1 at one star, 0 at five.
func normStar(star int) float64 {
	return float64(5-star) / 4.0
}

// canonicalLabel folds a collaborator label onto the lowercase constants.
// Structured-output enums come back uppercase, and older databases may hold
// either form.
func canonicalLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// normSent maps sentiment confidence signed by label polarity into [0,1]:
// a confident negative approaches 1, a confident positive approaches 0 and
// neutral sits at 0.5.
func normSent(s SentimentResult) float64 {
	switch canonicalLabel(s.Label) {
	case SentimentNegative:
		return 0.5 + s.Confidence/2
	case SentimentPositive:
		return 0.5 - s.Confidence/2
	default:
		return 0.5
	}
}

// ScoreNegativity scores a single review. It is a pure function: per-review
// anomalies (a missing star under FUSION) are recorded on the result instead of
// aborting, while a missing star under STAR_ONLY and a missing sentiment in
// sentiment-dependent modes are unusable and return MissingFeature.
func ScoreNegativity(r Review, sent *SentimentResult, cfg FilterConfig) (NegativityScore, error) {
	score := NegativityScore{ReviewID: r.ID}

	switch cfg.Mode {
	case ModeStarOnly:
		if r.Star == nil {
			return score, &MissingFeatureError{Feature: "star rating", ReviewID: r.ID}
		}
		score.Negative = *r.Star <= cfg.StarThreshold
		if score.Negative {
			score.KeepScore = 1
		}

	case ModeSentimentOnly:
		if sent == nil {
			return score, &MissingFeatureError{Feature: "sentiment", ReviewID: r.ID}
		}
		score.Negative = canonicalLabel(sent.Label) == SentimentNegative && sent.Confidence >= cfg.ConfThreshold
		if score.Negative {
			score.KeepScore = 1
		}

	case ModeWeightedFusion:
		if sent == nil {
			return score, &MissingFeatureError{Feature: "sentiment", ReviewID: r.ID}
		}
		starTerm := 0.0
		if r.Star != nil {
			starTerm = cfg.WStar * normStar(*r.Star)
		} else {
			score.MissingStar = true
		}
		score.KeepScore = starTerm + cfg.WSent*normSent(*sent)
		score.Negative = score.KeepScore >= cfg.KeepThreshold

	default:
		return score, &InvalidConfigurationError{Field: "negative_mode", Reason: "unknown mode " + string(cfg.Mode)}
	}

	return score, nil
}

// ScoreReviews scores every review with a bounded worker pool. Workers read the
// shared immutable inputs and each writes only its own output slot, so the
// result order matches the input order.
func ScoreReviews(ctx context.Context, reviews []Review, sentiments map[string]SentimentResult, cfg FilterConfig) ([]NegativityScore, error) {
	scores := make([]NegativityScore, len(reviews))

	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, r := range reviews {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var sent *SentimentResult
			if s, ok := sentiments[r.ID]; ok {
				sent = &s
			}
			score, err := ScoreNegativity(r, sent, cfg)
			if err != nil {
				return err
			}
			scores[i] = score
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return scores, nil
}
