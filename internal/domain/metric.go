package domain

type Metric struct {
	TotalJobsCreated   int
	TransitionsApplied int
	StaleConflicts     int
	HoldsPlaced        int
	HoldsFailed        int
	CapturesSucceeded  int
	CapturesFailed     int
	RefundsSucceeded   int
	RefundsFailed      int
	Reconciled         int
}

func NewMetric() *Metric {
	return &Metric{}
}
