package dashboard

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/warden/internal/client"
	"github.com/zulandar/warden/internal/state"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/", handleIndex())
	router.POST("/configure", handleConfigure(opts.Controller, opts.Settings))
	router.GET("/api/events", handleSSE(opts.Hub, opts.Controller, opts.Joined))
	router.GET("/healthz", handleHealth(opts.Controller, opts.Joined))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func handleIndex() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := assetsFS.ReadFile("assets/index.html")
		if err != nil {
			c.String(http.StatusInternalServerError, "dashboard page missing")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", data)
	}
}

// handleConfigure accepts cookies, prefix and adminID form fields and
// starts the bot without waiting for the login.
func handleConfigure(ctrl Controller, settings *state.Settings) gin.HandlerFunc {
	return func(c *gin.Context) {
		creds, err := client.ParseCredentials(c.PostForm("cookies"))
		if err != nil {
			log.Printf("dashboard: configuration error: %v", err)
			c.String(http.StatusBadRequest, "Error: Invalid cookies format. Please provide a valid JSON array of cookies.")
			return
		}
		adminID := c.PostForm("adminID")
		if adminID == "" {
			c.String(http.StatusBadRequest, "Error: Admin ID is required.")
			return
		}
		prefix := c.PostForm("prefix")
		if prefix == "" {
			prefix = state.DefaultPrefix
		}
		settings.Set(prefix, adminID)

		c.String(http.StatusOK, "Bot configured successfully! Starting...")
		go ctrl.Start(creds)
	}
}

func handleHealth(ctrl Controller, joined *state.JoinedSet) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"started": ctrl.Started(),
			"groups":  joined.Len(),
		})
	}
}
