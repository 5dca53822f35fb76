package lifecycle

import "context"

// Stage orders shutdown. Lower stages finish before higher ones start.
type Stage int

const (
	// StageIngress stops accepting updates.
	StageIngress Stage = iota
	// StageWorkers drains background jobs and loops.
	StageWorkers
	// StageStorage closes connections last.
	StageStorage
)

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Stage Stage
	Fn    func(ctx context.Context) error
}
