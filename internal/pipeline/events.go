package pipeline

import "log/slog"

// CompletionListener observes variant- and job-level completion. Fired by the
// collector (and by the splitter for jobs with no targeted variants).
type CompletionListener interface {
	OnVariantCompleted(pushID, variantID string)
	OnPushMessageCompleted(pushID string)
}

// LogCompletionListener is the default listener; it only logs.
type LogCompletionListener struct {
	Logger *slog.Logger
}

func (l *LogCompletionListener) OnVariantCompleted(pushID, variantID string) {
	l.Logger.Info("Variant completed.", "push_job", pushID, "variant", variantID)
}

func (l *LogCompletionListener) OnPushMessageCompleted(pushID string) {
	l.Logger.Info("Push message completed.", "push_job", pushID)
}
