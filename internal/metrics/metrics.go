// Package metrics exposes Prometheus counters for engine outcomes. Metric
// updates never affect transactional results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set bundles the platform counters so services share one registry.
type Set struct {
	Registry *prometheus.Registry

	PurchasesCompleted    *prometheus.CounterVec
	PurchasesFailed       prometheus.Counter
	PurchasesReversed     prometheus.Counter
	CommissionsIssued     *prometheus.CounterVec
	CommissionsRolledBack prometheus.Counter
	InstallmentPayments   prometheus.Counter
	PlansDefaulted        prometheus.Counter
	WithdrawalOutcomes    *prometheus.CounterVec
	MarketTransfers       prometheus.Counter
	SweepRuns             *prometheus.CounterVec
}

// New builds a metric set on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Set{
		Registry: reg,
		PurchasesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharevest_purchases_completed_total",
			Help: "Completed share purchases by share kind.",
		}, []string{"kind"}),
		PurchasesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharevest_purchases_failed_total",
			Help: "Purchase intents that failed verification.",
		}),
		PurchasesReversed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharevest_purchases_reversed_total",
			Help: "Admin reversals of completed purchases.",
		}),
		CommissionsIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharevest_commissions_issued_total",
			Help: "Referral commissions issued by generation.",
		}, []string{"generation"}),
		CommissionsRolledBack: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharevest_commissions_rolled_back_total",
			Help: "Referral commissions rolled back after source reversal.",
		}),
		InstallmentPayments: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharevest_installment_payments_total",
			Help: "Verified installment payments.",
		}),
		PlansDefaulted: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharevest_installment_defaults_total",
			Help: "Installment plans transitioned to defaulted.",
		}),
		WithdrawalOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharevest_withdrawals_total",
			Help: "Withdrawal requests by terminal outcome.",
		}, []string{"outcome"}),
		MarketTransfers: factory.NewCounter(prometheus.CounterOpts{
			Name: "sharevest_marketplace_transfers_total",
			Help: "Completed marketplace share transfers.",
		}),
		SweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sharevest_sweep_runs_total",
			Help: "Periodic sweep executions by job.",
		}, []string{"job"}),
	}
}

// Nop returns a metric set backed by a throwaway registry for tests.
func Nop() *Set { return New() }
