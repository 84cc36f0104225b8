package controller

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/raterudder/chargeplan/pkg/types"
)

type metrics struct {
	runs        *prometheus.CounterVec
	chargeStart *prometheus.GaugeVec
	loadStart   *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chargeplan_runs_total",
		Help: "Total number of schedule runs by result",
	}, []string{"result"})
	chargeStart := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chargeplan_charge_start_hour",
		Help: "Start hour of the most recent charge window",
	}, []string{"site"})
	loadStart := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chargeplan_load_start_hour",
		Help: "Start hour of the most recent load window",
	}, []string{"site"})

	var err error
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	if chargeStart, err = register(reg, chargeStart); err != nil {
		return nil, err
	}
	if loadStart, err = register(reg, loadStart); err != nil {
		return nil, err
	}
	return &metrics{runs: runs, chargeStart: chargeStart, loadStart: loadStart}, nil
}

// register reuses an already registered collector of the same name.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observe(siteID string, result types.RunResult, decision *types.ScheduleDecision) {
	m.runs.WithLabelValues(string(result)).Inc()
	if decision != nil {
		m.chargeStart.WithLabelValues(siteID).Set(float64(decision.ChargeStartHour))
		m.loadStart.WithLabelValues(siteID).Set(float64(decision.LoadStartHour))
	}
}
