package validation

import "github.com/yourusername/tevani-core/models"

// ScoringPolicy turns check outcomes into a trust score (0-100) and risk tier.
type ScoringPolicy interface {
	Name() string
	Score(checks []models.CheckOutcome) (int, models.RiskTier)
}

type tierThreshold struct {
	min  int
	tier models.RiskTier
}

func tierFor(score int, thresholds []tierThreshold) models.RiskTier {
	for _, t := range thresholds {
		if score >= t.min {
			return t.tier
		}
	}
	return models.RiskTierD
}

func countResults(checks []models.CheckOutcome) (pass, warning, fail int) {
	for _, c := range checks {
		switch c.Result {
		case models.CheckResultPass:
			pass++
		case models.CheckResultWarning:
			warning++
		case models.CheckResultFail:
			fail++
		}
	}
	return pass, warning, fail
}

// AutomaticScoringPolicy is used by the validation pipeline. A pass is worth
// one point and a warning half a point; the ratio is truncated to an integer
// percentage.
type AutomaticScoringPolicy struct{}

var automaticThresholds = []tierThreshold{
	{90, models.RiskTierA},
	{75, models.RiskTierB},
	{60, models.RiskTierC},
}

func (AutomaticScoringPolicy) Name() string { return "automatic" }

func (AutomaticScoringPolicy) Score(checks []models.CheckOutcome) (int, models.RiskTier) {
	score := 0
	if total := len(checks); total > 0 {
		pass, warning, _ := countResults(checks)
		// (pass + 0.5*warning) / total * 100 in integer arithmetic
		score = (2*pass + warning) * 100 / (2 * total)
	}
	return score, AutomaticTier(score)
}

// AutomaticTier maps a score to a tier with the pipeline thresholds.
func AutomaticTier(score int) models.RiskTier {
	return tierFor(score, automaticThresholds)
}

// ManualReviewScoringPolicy backs the administrative review path. Any failed
// check forces a score of zero; otherwise a pass counts 100 and a warning 50,
// averaged over the checks.
type ManualReviewScoringPolicy struct{}

var manualThresholds = []tierThreshold{
	{90, models.RiskTierA},
	{80, models.RiskTierB},
	{70, models.RiskTierC},
}

func (ManualReviewScoringPolicy) Name() string { return "manual_review" }

func (ManualReviewScoringPolicy) Score(checks []models.CheckOutcome) (int, models.RiskTier) {
	pass, warning, fail := countResults(checks)
	if fail > 0 || len(checks) == 0 {
		return 0, models.RiskTierD
	}
	score := (pass*100 + warning*50) / len(checks)
	return score, ManualReviewTier(score)
}

func ManualReviewTier(score int) models.RiskTier {
	return tierFor(score, manualThresholds)
}

// HasFailure reports whether any check failed.
func HasFailure(checks []models.CheckOutcome) bool {
	for _, c := range checks {
		if c.Result == models.CheckResultFail {
			return true
		}
	}
	return false
}

// NextStatus is the status an invoice moves to after a validation run.
func NextStatus(checks []models.CheckOutcome) models.InvoiceStatus {
	if HasFailure(checks) {
		return models.InvoiceStatusRejected
	}
	return models.InvoiceStatusPendingConsent
}

// Evaluation is the full result of one validation run.
type Evaluation struct {
	Checks     []models.CheckOutcome `json:"validation_results"`
	TrustScore int                   `json:"trust_score"`
	RiskTier   models.RiskTier       `json:"risk_tier"`
	NextStatus models.InvoiceStatus  `json:"next_status"`
	Policy     string                `json:"policy"`
}

// Evaluate runs every rule against the invoice and scores the outcomes.
func Evaluate(inv *models.Invoice, policy ScoringPolicy) Evaluation {
	return Score(RunChecks(inv), policy)
}

// Score applies a policy to an existing list of outcomes.
func Score(checks []models.CheckOutcome, policy ScoringPolicy) Evaluation {
	if policy == nil {
		policy = AutomaticScoringPolicy{}
	}
	score, tier := policy.Score(checks)
	return Evaluation{
		Checks:     checks,
		TrustScore: score,
		RiskTier:   tier,
		NextStatus: NextStatus(checks),
		Policy:     policy.Name(),
	}
}
