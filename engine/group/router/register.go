package grouprouter

import (
	"github.com/gin-gonic/gin"
)

func Register(apiBase *gin.RouterGroup) {
	groupsGroup := apiBase.Group("/groups")
	{
		groupsGroup.GET("", listGroups)
		groupsGroup.POST("", createGroup)
		groupsGroup.GET("/:group_id", getGroup)
		groupsGroup.PUT("/:group_id", updateGroup)
		groupsGroup.DELETE("/:group_id", deleteGroup)
	}
}
