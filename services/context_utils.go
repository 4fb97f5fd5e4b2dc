package services

import "context"

// persistentContext detaches follow-up work (notifications, run bookkeeping)
// from the request so a client disconnect cannot cancel it.
func persistentContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
