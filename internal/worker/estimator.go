package worker

// Estimator turns work completed into a progress percentage. The total
// page count is usually unknown upfront, so the policy is pluggable.
// Estimates stay below 100: only Finish(complete) pins 100.
type Estimator interface {
	Estimate(pagesDone, pending int) int
}

const defaultPageBudget = 25

// BudgetEstimator assumes a fixed page budget per run.
type BudgetEstimator struct {
	Budget int
}

// Estimate reports done/budget, capped at 99.
func (e BudgetEstimator) Estimate(pagesDone, _ int) int {
	budget := e.Budget
	if budget <= 0 {
		budget = defaultPageBudget
	}
	pct := pagesDone * 100 / budget
	return clampEstimate(pct)
}

// FrontierEstimator derives progress from the fetcher's discovered-but-
// unfetched frontier: done / (done + pending).
type FrontierEstimator struct{}

// Estimate reports done/(done+pending), capped at 99.
func (FrontierEstimator) Estimate(pagesDone, pending int) int {
	if pagesDone <= 0 {
		return 0
	}
	if pending < 0 {
		pending = 0
	}
	pct := pagesDone * 100 / (pagesDone + pending)
	return clampEstimate(pct)
}

func clampEstimate(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 99 {
		return 99
	}
	return pct
}
