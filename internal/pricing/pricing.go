// Package pricing maps analysis types to token costs. Costs are looked up
// fresh at submission and retry time; sessions snapshot the value at debit.
package pricing

import "github.com/equilens/equilens/internal/models"

// tokenCosts is the current price per analysis type.
var tokenCosts = map[models.AnalysisType]int64{
	models.AnalysisTypeVideoPerformance: 10,
	models.AnalysisTypeVideoCourse:      15,
	models.AnalysisTypeLocomotion:       20,
	models.AnalysisTypeRadiological:     25,
}

// defaultCost applies to analysis types without an explicit price.
const defaultCost int64 = 25

// Cost returns the token cost for an analysis type.
func Cost(analysisType models.AnalysisType) int64 {
	if cost, ok := tokenCosts[analysisType]; ok {
		return cost
	}
	return defaultCost
}

// Affordable reports whether a balance covers one analysis of the given type.
func Affordable(balance int64, analysisType models.AnalysisType) bool {
	return balance >= Cost(analysisType)
}

// IsKnownType reports whether the analysis type has an explicit price entry.
func IsKnownType(analysisType models.AnalysisType) bool {
	_, ok := tokenCosts[analysisType]
	return ok
}
