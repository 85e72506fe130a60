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

package network

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsSubsystem = "network"

// Metrics holds the worker counters
type Metrics struct {
	OutstandingRequests   prometheus.Gauge
	RequestsStarted       prometheus.Counter
	RequestsFinished      prometheus.Counter
	RequestsFailed        prometheus.Counter
	AnnouncementsReceived prometheus.Counter
	AnnouncementsSent     prometheus.Counter
	ConnectedPeers        prometheus.Gauge
}

// NewMetrics registers the network metrics with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OutstandingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "outstanding_block_requests",
			Help:      "Number of block requests awaiting a result",
		}),
		RequestsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "block_requests_started_total",
			Help:      "Total number of block requests started",
		}),
		RequestsFinished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "block_requests_finished_total",
			Help:      "Total number of block requests resolved, successfully or not",
		}),
		RequestsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "block_requests_failed_total",
			Help:      "Total number of block requests resolved with an error",
		}),
		AnnouncementsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "announcements_received_total",
			Help:      "Total number of block announcements received",
		}),
		AnnouncementsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "announcements_sent_total",
			Help:      "Total number of block announcements broadcast",
		}),
		ConnectedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: metricsSubsystem,
			Name:      "connected_peers",
			Help:      "Number of connected peers",
		}),
	}
}
