package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"KidneyAllocation/internal/domain"
	"KidneyAllocation/internal/offers"
	"KidneyAllocation/internal/ranking"
)

// Metrics provides observability for ranking runs and the offer lifecycle.
type Metrics struct {
	RankingRuns     prometheus.Counter
	RankedMatches   prometheus.Gauge
	RankedDonors    prometheus.Gauge
	OffersCreated   prometheus.Counter
	OffersPending   prometheus.Gauge
	OfferOutcomes   *prometheus.CounterVec
	ResponseLatency prometheus.Histogram
}

var (
	_ ranking.Observer = (*Metrics)(nil)
	_ offers.Observer  = (*Metrics)(nil)
)

// New registers all allocator metrics with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RankingRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "kidney_ranking_runs_total",
			Help: "Total completed match ranking runs",
		}),
		RankedMatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kidney_ranking_matches",
			Help: "Compatible pairs produced by the last ranking run",
		}),
		RankedDonors: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kidney_ranking_donors",
			Help: "Donors considered by the last ranking run",
		}),
		OffersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "kidney_offers_created_total",
			Help: "Total offers sent to clinicians",
		}),
		OffersPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kidney_offers_pending",
			Help: "Offers awaiting a clinician decision",
		}),
		OfferOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kidney_offer_outcomes_total",
			Help: "Offer transitions out of pending by resulting status",
		}, []string{"status"}), // status: "Accepted", "Rejected", "Expired"

		ResponseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kidney_offer_response_seconds",
			Help:    "Time from offer creation to a clinician decision",
			Buckets: []float64{60, 300, 600, 900, 1800, 2700, 3600},
		}),
	}
}

// ObserveRanking records the size of a ranking run.
func (m *Metrics) ObserveRanking(donors, _, matches int) {
	if m != nil {
		m.RankingRuns.Inc()
		m.RankedDonors.Set(float64(donors))
		m.RankedMatches.Set(float64(matches))
	}
}

// OfferCreated counts a new pending offer.
func (m *Metrics) OfferCreated(_ domain.Offer) {
	if m != nil {
		m.OffersCreated.Inc()
		m.OffersPending.Inc()
	}
}

// OfferTransitioned records the outcome and, for clinician decisions, the response time.
func (m *Metrics) OfferTransitioned(offer domain.Offer, from domain.OfferStatus) {
	if m == nil {
		return
	}
	if from == domain.OfferPending {
		m.OffersPending.Dec()
	}
	m.OfferOutcomes.WithLabelValues(string(offer.Status)).Inc()
	if offer.RespondedAt != nil {
		m.ResponseLatency.Observe(offer.RespondedAt.Sub(offer.CreatedAt).Seconds())
	}
}

// OfferDiscarded drops an offer that left the manager while still pending.
func (m *Metrics) OfferDiscarded(_ domain.Offer) {
	if m != nil {
		m.OffersPending.Dec()
	}
}
