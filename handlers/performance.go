// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/danielhkuo/worldeval/models"
)

// ComparisonVerdicts is one completed comparison evaluation flattened to
// its per-dimension verdicts.
type ComparisonVerdicts struct {
	ModelA   string
	ModelB   string
	Verdicts map[string]string
}

type trialSet struct {
	outcomes []float64
}

// ComputeModelPerformance aggregates per-dimension win rates across
// completed comparison evaluations. Each verdict contributes one trial to
// both participating models: the winner scores 1, the loser 0, and an
// Equal verdict scores 0.5 for each. Dimensions with no trials for a
// model are omitted.
func ComputeModelPerformance(evals []ComparisonVerdicts) []models.ModelPerformance {
	type key struct {
		model     string
		dimension string
	}
	trials := make(map[key]*trialSet)

	record := func(model, dimension string, outcome float64) {
		k := key{model: model, dimension: dimension}
		set := trials[k]
		if set == nil {
			set = &trialSet{}
			trials[k] = set
		}
		set.outcomes = append(set.outcomes, outcome)
	}

	for _, eval := range evals {
		for dimension, verdict := range eval.Verdicts {
			switch verdict {
			case models.VerdictA:
				record(eval.ModelA, dimension, 1)
				record(eval.ModelB, dimension, 0)
			case models.VerdictB:
				record(eval.ModelA, dimension, 0)
				record(eval.ModelB, dimension, 1)
			case models.VerdictEqual:
				record(eval.ModelA, dimension, 0.5)
				record(eval.ModelB, dimension, 0.5)
			}
		}
	}

	results := make([]models.ModelPerformance, 0, len(trials))
	for k, set := range trials {
		n := float64(len(set.outcomes))

		var sum float64
		for _, outcome := range set.outcomes {
			sum += outcome
		}
		mean := sum / n

		var variance float64
		for _, outcome := range set.outcomes {
			variance += (outcome - mean) * (outcome - mean)
		}
		variance /= n

		results = append(results, models.ModelPerformance{
			Model:          k.model,
			Dimension:      k.dimension,
			WinRate:        mean,
			NumEvaluations: len(set.outcomes),
			StandardError:  math.Sqrt(variance / n),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Model != results[j].Model {
			return results[i].Model < results[j].Model
		}
		return results[i].Dimension < results[j].Dimension
	})

	return results
}

// ChooseModel resolves a comparison evaluation to the model the
// participant preferred overall. A strict majority of A or B verdicts
// picks that side's model; anything else is Equal.
func ChooseModel(scores map[string]json.RawMessage, modelA, modelB string) string {
	var votesA, votesB int
	for _, raw := range scores {
		var verdict string
		if err := json.Unmarshal(raw, &verdict); err != nil {
			continue
		}
		switch verdict {
		case models.VerdictA:
			votesA++
		case models.VerdictB:
			votesB++
		}
	}

	switch {
	case votesA > votesB:
		return modelA
	case votesB > votesA:
		return modelB
	default:
		return models.VerdictEqual
	}
}

// progressPercentage reports completed evaluations against the target as
// a rounded percentage. The value is deliberately unclamped: tasks can
// run past their target.
func progressPercentage(completed, target int) int {
	if target <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(target)))
}
