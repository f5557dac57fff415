package auth

// Known OAuth scopes used by the backend services.
const (
	ScopeWorkoutsRead  = "workouts:read"
	ScopeRewardsRead   = "rewards:read"
	ScopeWalletsManage = "wallets:manage"
)
