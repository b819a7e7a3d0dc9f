package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"trustfund/internal/address"
)

// gin context 中由认证中间件写入的键
const (
	ContextSubjectKey = "subject"
	ContextRoleKey    = "role"
)

// callerAddress 返回已认证签名者的地址；管理员令牌的 subject 不是地址
func callerAddress(c *gin.Context) (address.Address, bool) {
	subject := c.GetString(ContextSubjectKey)
	addr, err := address.Parse(subject)
	if err != nil {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "Unauthorized", Message: "caller is not a signer"})
		return address.Zero, false
	}
	return addr, true
}

func pathAddress(c *gin.Context, name string) (address.Address, bool) {
	addr, err := address.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name+" address")
		return address.Zero, false
	}
	return addr, true
}

// optionalAddress 解析可选的地址字段，空字符串表示由服务端派生
func optionalAddress(c *gin.Context, field, value string) (address.Address, bool) {
	if value == "" {
		return address.Zero, true
	}
	addr, err := address.Parse(value)
	if err != nil {
		badRequest(c, "invalid "+field)
		return address.Zero, false
	}
	return addr, true
}

func pathMilestoneID(c *gin.Context) (uint8, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 8)
	if err != nil {
		badRequest(c, "milestone id must be 0-255")
		return 0, false
	}
	return uint8(id), true
}
