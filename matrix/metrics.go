// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package matrix

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "matrix"

// Metrics holds the counters updated by the builder and the publisher
type Metrics struct {
	CellsConstructed     prometheus.Counter
	ConstructionFailures prometheus.Counter
	CellsPublished       prometheus.Counter
	ColumnsPublished     prometheus.Counter
	MatricesPublished    prometheus.Counter
	PublishFailures      prometheus.Counter
	SkippedCells         prometheus.Counter
	ProofFetchLatency    prometheus.Histogram
}

// NewMetrics registers the matrix metrics with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CellsConstructed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "cells_constructed_total",
			Help:      "Total number of cells built from fetched proofs",
		}),
		ConstructionFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "construction_failures_total",
			Help:      "Total number of cells that could not be built",
		}),
		CellsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "cells_published_total",
			Help:      "Total number of cells written to the store",
		}),
		ColumnsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "columns_published_total",
			Help:      "Total number of column units written to the store",
		}),
		MatricesPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "matrices_published_total",
			Help:      "Total number of matrix roots written and pinned",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "publish_failures_total",
			Help:      "Total number of failed pin or insert operations",
		}),
		SkippedCells: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "skipped_cells_total",
			Help:      "Total number of cells left out of best-effort columns",
		}),
		ProofFetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "proof_fetch_seconds",
			Help:      "Proof fetch latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
	}
}
