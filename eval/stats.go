// Copyright 2025 Tomas Machalek <tomas.machalek@gmail.com>
// Copyright 2025 Department of Linguistics,
// Faculty of Arts, Charles University
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eval

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// SignificanceLevel is used for both the trend and the staleness tests.
	SignificanceLevel = 0.05

	// StalenessMinCorrelation is the minimum Pearson correlation between
	// model age and error to report a model as degrading with age.
	StalenessMinCorrelation = 0.3

	MinTrendPoints = 3

	TrendImproving    = "improving"
	TrendDegrading    = "degrading"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient data"
)

// ConfidenceInterval is a 95% interval of a mean.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func tCritical(df float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(0.975)
}

// twoSidedP returns a two-sided p-value of a t statistic.
func twoSidedP(t, df float64) float64 {
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * (1 - dist.CDF(math.Abs(t)))
}

// ErrorStats calculates MAE, RMSE and a t-distribution based 95%
// confidence interval of MAE from absolute errors. For a single
// value the interval collapses to the point estimate. The lower bound
// is not clamped.
func ErrorStats(absErrors []float64) (mae, rmse float64, ci ConfidenceInterval) {
	n := len(absErrors)
	if n == 0 {
		return 0, 0, ConfidenceInterval{}
	}
	var sumSq float64
	for _, e := range absErrors {
		sumSq += e * e
	}
	mae = stat.Mean(absErrors, nil)
	rmse = math.Sqrt(sumSq / float64(n))
	if n == 1 {
		return mae, rmse, ConfidenceInterval{Lower: mae, Upper: mae}
	}
	se := stat.StdDev(absErrors, nil) / math.Sqrt(float64(n))
	margin := tCritical(float64(n-1)) * se
	return mae, rmse, ConfidenceInterval{Lower: mae - margin, Upper: mae + margin}
}

// -----

type Trend struct {
	NumPoints   int     `json:"numPoints"`
	Slope       float64 `json:"slope"`
	Intercept   float64 `json:"intercept"`
	PValue      float64 `json:"pValue"`
	Significant bool    `json:"significant"`
	Direction   string  `json:"direction"`
}

// FitTrend fits ordinary least squares of the values against
// the index 0..n-1. A statistically significant negative slope
// (falling error) means "improving", a positive one "degrading".
func FitTrend(values []float64) Trend {
	n := len(values)
	if n < MinTrendPoints {
		return Trend{NumPoints: n, Direction: TrendInsufficient, PValue: 1}
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, values, nil, false)

	var ssr, sxx float64
	xMean := stat.Mean(xs, nil)
	for i, y := range values {
		r := y - (alpha + beta*xs[i])
		ssr += r * r
		sxx += (xs[i] - xMean) * (xs[i] - xMean)
	}
	df := float64(n - 2)
	var p float64
	if ssr < 1e-12 {
		// perfect fit
		if beta == 0 {
			p = 1
		}

	} else {
		se := math.Sqrt(ssr / df / sxx)
		p = twoSidedP(beta/se, df)
	}

	ans := Trend{
		NumPoints:   n,
		Slope:       beta,
		Intercept:   alpha,
		PValue:      p,
		Significant: p < SignificanceLevel,
		Direction:   TrendStable,
	}
	if ans.Significant {
		if beta < 0 {
			ans.Direction = TrendImproving

		} else if beta > 0 {
			ans.Direction = TrendDegrading
		}
	}
	return ans
}

// -----

type AgeGroup struct {
	AgeDays   int     `json:"ageDays"`
	MeanError float64 `json:"meanError"`
	Count     int     `json:"count"`
}

type Staleness struct {
	Groups          []AgeGroup `json:"groups"`
	Correlation     float64    `json:"correlation"`
	PValue          float64    `json:"pValue"`
	DegradesWithAge bool       `json:"degradesWithAge"`
}

// AnalyzeStaleness groups absolute errors by the age (in whole days)
// of the model which produced the prediction and tests the correlation
// between the age and the mean error of the groups.
func AnalyzeStaleness(ageDays []int, absErrors []float64) Staleness {
	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, age := range ageDays {
		sums[age] += absErrors[i]
		counts[age]++
	}
	ans := Staleness{Groups: make([]AgeGroup, 0, len(sums)), PValue: 1}
	for age, sum := range sums {
		ans.Groups = append(ans.Groups, AgeGroup{
			AgeDays:   age,
			MeanError: sum / float64(counts[age]),
			Count:     counts[age],
		})
	}
	sort.Slice(ans.Groups, func(i, j int) bool {
		return ans.Groups[i].AgeDays < ans.Groups[j].AgeDays
	})
	n := len(ans.Groups)
	if n < MinTrendPoints {
		return ans
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, g := range ans.Groups {
		xs[i] = float64(g.AgeDays)
		ys[i] = g.MeanError
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		// no variance in errors
		return ans
	}
	ans.Correlation = r
	df := float64(n - 2)
	if math.Abs(r) >= 1 {
		ans.PValue = 0

	} else {
		t := r * math.Sqrt(df/(1-r*r))
		ans.PValue = twoSidedP(t, df)
	}
	ans.DegradesWithAge = ans.Correlation > StalenessMinCorrelation && ans.PValue < SignificanceLevel
	return ans
}
