// Package similarity scores how likely two canonical records describe the same real-world entity.
package similarity

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/semaphore"

	"github.com/Ramsey-B/clover/pkg/normalizers"
)

const (
	ExactEmailScore = 1.0
	ExactPhoneScore = 0.95

	ReasonSameEmail   = "Same email"
	ReasonSamePhone   = "Same phone"
	ReasonSimilarName = "Similar name"
	ReasonSameCompany = "Same company"
	ReasonCrossSource = "Cross-source match"
)

// Oracle is an optional semantic comparison, typically backed by a language model.
type Oracle interface {
	EmbedSimilarity(ctx context.Context, textA, textB string) (float64, error)
}

// Record is the comparable projection of a canonical entity.
type Record struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	Organization string
	// Source is the provider that produced the record. Empty when unknown.
	Source string
}

// Text renders the record for the oracle prompt.
func (r Record) Text() string {
	return fmt.Sprintf("Name: %s, Email: %s, Phone: %s, Company: %s",
		orNA(r.Name), orNA(r.Email), orNA(r.Phone), orNA(r.Organization))
}

type Config struct {
	NameWeight         float64
	OrganizationWeight float64
	OracleWeight       float64
	// EmailMismatchWeight and PhoneMismatchWeight are the weights of the zero signal recorded when
	// both records carry the field and the values differ.
	EmailMismatchWeight float64
	PhoneMismatchWeight float64
	// CrossSourceBoost multiplies the combined score when both records carry different sources.
	CrossSourceBoost float64
	// SimilarNameThreshold is the name similarity above which "Similar name" is reported.
	SimilarNameThreshold float64
	OracleTimeout        time.Duration
	OracleConcurrency    int64
}

func DefaultConfig() Config {
	return Config{
		NameWeight:           0.7,
		OrganizationWeight:   0.3,
		OracleWeight:         0.5,
		EmailMismatchWeight:  ExactEmailScore,
		PhoneMismatchWeight:  ExactPhoneScore,
		CrossSourceBoost:     1.2,
		SimilarNameThreshold: 0.9,
		OracleTimeout:        10 * time.Second,
		OracleConcurrency:    4,
	}
}

// Result is a similarity score and the human readable evidence behind it.
type Result struct {
	Score   float64
	Reasons []string
}

type Scorer struct {
	cfg    Config
	oracle Oracle
	sem    *semaphore.Weighted
	logger ectologger.Logger
}

// NewScorer creates a scorer. oracle may be nil, which disables the semantic signal.
func NewScorer(cfg Config, oracle Oracle, logger ectologger.Logger) *Scorer {
	if cfg.OracleConcurrency <= 0 {
		cfg.OracleConcurrency = 1
	}
	return &Scorer{
		cfg:    cfg,
		oracle: oracle,
		sem:    semaphore.NewWeighted(cfg.OracleConcurrency),
		logger: logger,
	}
}

// Score compares two records. Exact email and phone matches short-circuit. Otherwise the
// signals that both records can provide are combined as a weighted mean, so comparing a record
// with itself always yields 1.0. An email or phone present on both sides but different counts as
// a zero signal. A failing oracle contributes nothing.
func (s *Scorer) Score(ctx context.Context, a, b Record) Result {
	reasons := Reasons(a, b, s.cfg.SimilarNameThreshold)

	var weighted, weights float64

	if a.Email != "" && b.Email != "" {
		if normalizers.NormalizeEmail(a.Email) == normalizers.NormalizeEmail(b.Email) {
			return Result{Score: ExactEmailScore, Reasons: reasons}
		}
		weights += s.cfg.EmailMismatchWeight
	}

	if a.Phone != "" && b.Phone != "" {
		pa, pb := normalizers.NormalizePhone(a.Phone), normalizers.NormalizePhone(b.Phone)
		if pa != "" && pa == pb {
			return Result{Score: ExactPhoneScore, Reasons: reasons}
		}
		if pa != "" && pb != "" {
			weights += s.cfg.PhoneMismatchWeight
		}
	}

	if a.Name != "" && b.Name != "" {
		weighted += s.cfg.NameWeight * Levenshtein(normalizers.NormalizeName(a.Name), normalizers.NormalizeName(b.Name))
		weights += s.cfg.NameWeight
	}
	if a.Organization != "" && b.Organization != "" {
		weighted += s.cfg.OrganizationWeight * Levenshtein(normalizers.NormalizeOrganization(a.Organization), normalizers.NormalizeOrganization(b.Organization))
		weights += s.cfg.OrganizationWeight
	}
	if score, ok := s.oracleScore(ctx, a, b); ok {
		weighted += s.cfg.OracleWeight * score
		weights += s.cfg.OracleWeight
	}

	if weights == 0 {
		return Result{Score: 0, Reasons: reasons}
	}

	score := weighted / weights
	if IsCrossSource(a, b) && s.cfg.CrossSourceBoost > 0 {
		score = min(score*s.cfg.CrossSourceBoost, 1.0)
	}

	return Result{Score: score, Reasons: reasons}
}

func (s *Scorer) oracleScore(ctx context.Context, a, b Record) (float64, bool) {
	if s.oracle == nil {
		return 0, false
	}

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"record_a": a.ID,
		"record_b": b.ID,
	})

	if err := s.sem.Acquire(ctx, 1); err != nil {
		log.WithError(err).Warn("similarity oracle unavailable")
		return 0, false
	}
	defer s.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.OracleTimeout)
	defer cancel()

	score, err := s.oracle.EmbedSimilarity(callCtx, a.Text(), b.Text())
	if err != nil {
		log.WithError(err).Warn("similarity oracle failed, ignoring semantic signal")
		return 0, false
	}
	return min(max(score, 0), 1), true
}

// IsCrossSource reports whether both records carry a source and the sources differ.
func IsCrossSource(a, b Record) bool {
	return a.Source != "" && b.Source != "" && a.Source != b.Source
}

// Reasons lists the evidence two records share.
func Reasons(a, b Record, similarNameThreshold float64) []string {
	reasons := []string{}
	if a.Email != "" && normalizers.NormalizeEmail(a.Email) == normalizers.NormalizeEmail(b.Email) {
		reasons = append(reasons, ReasonSameEmail)
	}
	if pa := normalizers.NormalizePhone(a.Phone); pa != "" && pa == normalizers.NormalizePhone(b.Phone) {
		reasons = append(reasons, ReasonSamePhone)
	}
	if a.Name != "" && b.Name != "" &&
		Levenshtein(normalizers.NormalizeName(a.Name), normalizers.NormalizeName(b.Name)) > similarNameThreshold {
		reasons = append(reasons, ReasonSimilarName)
	}
	if a.Organization != "" && normalizers.NormalizeOrganization(a.Organization) == normalizers.NormalizeOrganization(b.Organization) {
		reasons = append(reasons, ReasonSameCompany)
	}
	if IsCrossSource(a, b) {
		reasons = append(reasons, ReasonCrossSource)
	}
	return reasons
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
