package platform

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gridforge/gridforge/internal/session"
)

// taskStatus is the JSON shape returned for one top-level task.
type taskStatus struct {
	ID       string `json:"id"`
	JobName  string `json:"job_name"`
	State    string `json:"state"`
	Info     string `json:"info,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// newRouter builds the read-only monitoring surface of SPEC_FULL.md §4.15:
// no submission or kill endpoints, since spec.md §1 keeps CLI front-ends
// for job control out of scope. Mirrors the teacher's router.go shape
// (cors + healthcheck + a resource-scoped GET group), instrumented with
// otelgin the same way the teacher instruments its gin routes with OTel
// spans elsewhere in its stack.
func newRouter(sess *session.Session) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("gridforge"))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/tasks", func(c *gin.Context) {
		tasks, errs := sess.Tasks(c.Request.Context())
		out := make([]taskStatus, 0, len(tasks))
		for _, t := range tasks {
			run := t.Run()
			ts := taskStatus{ID: string(t.PersistentID()), JobName: t.JobName(), State: string(run.State()), Info: run.Info}
			if run.ReturnCode.ExitCode != nil {
				ts.ExitCode = run.ReturnCode.ExitCode
			}
			out = append(out, ts)
		}
		resp := gin.H{"tasks": out}
		if len(errs) > 0 {
			msgs := make([]string, len(errs))
			for i, e := range errs {
				msgs[i] = e.Error()
			}
			resp["errors"] = msgs
		}
		c.JSON(http.StatusOK, resp)
	})

	api.GET("/tasks/:id", func(c *gin.Context) {
		tasks, _ := sess.Tasks(c.Request.Context())
		id := c.Param("id")
		for _, t := range tasks {
			if string(t.PersistentID()) == id {
				run := t.Run()
				ts := taskStatus{ID: string(t.PersistentID()), JobName: t.JobName(), State: string(run.State()), Info: run.Info}
				if run.ReturnCode.ExitCode != nil {
					ts.ExitCode = run.ReturnCode.ExitCode
				}
				c.JSON(http.StatusOK, ts)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	})

	return router
}
