package domain

// Notification is the payload handed to the notifier once the ledger has committed.
type Notification struct {
	Item        Item
	Analysis    *AnalysisResult
	Outcome     Outcome
	Trade       *Trade
	Positions   []Position
	Performance *PerformanceSnapshot
	Message     string // detalle legible del outcome (p.ej. "position already open")
}
