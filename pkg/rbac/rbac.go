package rbac

// 权限常量
const (
	// 托管操作权限
	PermissionCreateProject    = "project:create"
	PermissionAddMilestone     = "milestone:create"
	PermissionAcceptProject    = "project:accept"
	PermissionReleaseFunds     = "milestone:release"
	PermissionReadEscrow       = "escrow:read"
	PermissionOpenAccount      = "token_account:create"
	PermissionReadTokenAccount = "token_account:read"

	// 管理操作权限
	PermissionCreateMint   = "mint:create"
	PermissionMintTokens   = "mint:mint_to"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// 角色权限映射
// 管理员不是签名者，不能代替客户或自由职业者操作托管项目
var rolePermissions = map[string][]string{
	RoleUser: {
		PermissionCreateProject,
		PermissionAddMilestone,
		PermissionAcceptProject,
		PermissionReleaseFunds,
		PermissionReadEscrow,
		PermissionOpenAccount,
		PermissionReadTokenAccount,
	},
	RoleAdmin: {
		PermissionReadEscrow,
		PermissionReadTokenAccount,
		PermissionCreateMint,
		PermissionMintTokens,
		PermissionReplayOutbox,
	},
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}

	for _, p := range permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
