// fixit/controllers/usage.go
package controllers

import (
	"context"
	"fixit/fixit/services/quota"
	"fixit/fixit/utils/types"
	"strings"
	"time"
)

type UsageController struct {
	policy *quota.Policy
}

func NewUsageController(policy *quota.Policy) *UsageController {
	return &UsageController{policy: policy}
}

// GetUsage is read-only: repeated calls with no chat traffic in between
// return the same numbers.
func (c *UsageController) GetUsage(ctx context.Context, userID string) (*types.UsageResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("userId", "Valid User ID is required")
	}
	snap, err := c.policy.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &types.UsageResponse{
		Used:      snap.Used,
		Remaining: snap.Remaining,
		Limit:     snap.Limit,
		ResetTime: snap.ResetTime.UTC().Format(time.RFC3339),
	}, nil
}
