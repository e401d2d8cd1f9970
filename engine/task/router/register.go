package tkrouter

import (
	"github.com/gin-gonic/gin"
)

func Register(apiBase *gin.RouterGroup) {
	tasksGroup := apiBase.Group("/tasks")
	{
		// POST /tasks
		// Create a root task
		tasksGroup.POST("", createTask)
		// POST /tasks/hierarchy
		// Create a whole task tree in one request
		tasksGroup.POST("/hierarchy", createTaskHierarchy)
		tasksGroup.GET("", listTasks)
		tasksGroup.GET("/:task_id", getTask)
		tasksGroup.PATCH("/:task_id", updateTask)
		tasksGroup.DELETE("/:task_id", deleteTask)
		tasksGroup.DELETE("/:task_id/subtree", deleteTaskSubtree)
		tasksGroup.POST("/:task_id/cancel", cancelTask)
		tasksGroup.POST("/:task_id/cancel_subtree", cancelTaskSubtree)
		tasksGroup.POST("/:task_id/subtasks", addSubtasks)
		tasksGroup.PUT("/:task_id/output", setTaskOutput)
		tasksGroup.PUT("/:task_id/payload", setTaskPayload)
		tasksGroup.GET("/:task_id/children", listTaskChildren)
		tasksGroup.GET("/:task_id/descendants", listTaskDescendants)
		tasksGroup.GET("/:task_id/history", getTaskHistory)
		tasksGroup.GET("/:task_id/stream", streamTask)
	}
}
