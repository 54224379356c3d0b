package mergequeue

import (
	"time"

	"go.uber.org/zap"
)

type syncStat struct {
	StartTime time.Time
	EndTime   time.Time
	Seen      uint
	Created   uint
	Closed    uint
	Failures  uint
}

func (s *syncStat) LogFields() []zap.Field {
	return []zap.Field{
		zap.Duration("sync_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("pr_sync.seen", s.Seen),
		zap.Uint("pr_sync.failures", s.Failures),
		zap.Uint("pr_sync.created", s.Created),
		zap.Uint("pr_sync.closed", s.Closed),
		zap.Uint("pr_sync.out_of_sync", s.Created+s.Closed),
	}
}
