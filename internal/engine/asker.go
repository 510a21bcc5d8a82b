package engine

import (
	"context"
	"errors"

	"udos/internal/dispatch"
	"udos/internal/vibe"
)

// vibeAsker adapts the provider chain client to the dispatcher's stage-3
// boundary, translating chain errors into dispatch error codes.
type vibeAsker struct {
	client *vibe.Client
}

// reasonCodes maps failover reasons to the dispatch error code surfaced
// when the chain exhausts on that reason.
var reasonCodes = map[vibe.FailoverReason]dispatch.Code{
	vibe.ReasonMissingAuth:     dispatch.CodeProviderMissingAuth,
	vibe.ReasonAuthError:       dispatch.CodeProviderAuthError,
	vibe.ReasonRateLimit:       dispatch.CodeProviderRateLimit,
	vibe.ReasonUnreachable:     dispatch.CodeProviderUnreachable,
	vibe.ReasonInvalidResponse: dispatch.CodeProviderInvalidResponse,
	vibe.ReasonCancelled:       dispatch.CodeCancelled,
}

func (a *vibeAsker) Ask(ctx context.Context, prompt string) (*dispatch.AskResult, error) {
	result, err := a.client.Ask(ctx, prompt)
	if err != nil {
		var ce *vibe.ChainError
		if errors.As(err, &ce) {
			code, ok := reasonCodes[ce.Reason]
			if !ok {
				code = dispatch.CodeProviderUnreachable
			}
			// Attempts ride along so the debug envelope can show the
			// full chain walk even on failure.
			return &dispatch.AskResult{Attempts: convertAttempts(ce.Attempts)},
				dispatch.NewError(code, "%s", ce)
		}
		return nil, dispatch.NewError(dispatch.CodeProviderUnreachable, "%s", err)
	}
	return &dispatch.AskResult{
		Text:         result.Text,
		ProviderUsed: result.ProviderUsed,
		Attempts:     convertAttempts(result.Attempts),
	}, nil
}

func convertAttempts(attempts []vibe.Attempt) []dispatch.Attempt {
	out := make([]dispatch.Attempt, len(attempts))
	for i, a := range attempts {
		out[i] = dispatch.Attempt{
			Provider:       a.Provider,
			OK:             a.OK,
			FailoverReason: a.FailoverReason,
			ElapsedMS:      a.ElapsedMS,
		}
	}
	return out
}
