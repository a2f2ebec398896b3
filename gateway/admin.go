package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/gatekeeper/breaker"
	"github.com/ceyewan/gatekeeper/clog"
)

func (g *Gateway) newAdminEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	g.mountAdmin(r)
	return r
}

func (g *Gateway) mountAdmin(r *gin.Engine) {
	r.GET("/actuator/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/actuator/breakers", g.listBreakers)
	r.GET("/actuator/breakers/:name", g.getBreaker)
	r.POST("/actuator/breakers/:name/reset", g.resetBreaker)
	r.GET("/actuator/policy", g.describePolicy)
	r.GET("/metrics", gin.WrapH(g.meter.Handler()))
}

func (g *Gateway) listBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": g.registry.Snapshot()})
}

func (g *Gateway) findBreaker(name string) (breaker.Metrics, bool) {
	for _, m := range g.registry.Snapshot() {
		if m.Name == name {
			return m, true
		}
	}
	return breaker.Metrics{}, false
}

func (g *Gateway) getBreaker(c *gin.Context) {
	m, ok := g.findBreaker(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "BREAKER_NOT_FOUND", "error": "no breaker named " + c.Param("name")})
		return
	}
	c.JSON(http.StatusOK, m)
}

func (g *Gateway) resetBreaker(c *gin.Context) {
	name := c.Param("name")
	if _, ok := g.findBreaker(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "BREAKER_NOT_FOUND", "error": "no breaker named " + name})
		return
	}
	if err := g.registry.Reset(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "RESET_FAILED", "error": err.Error()})
		return
	}
	g.logger.Info("breaker reset", clog.String("breaker", name))
	m, _ := g.findBreaker(name)
	c.JSON(http.StatusOK, m)
}

func (g *Gateway) describePolicy(c *gin.Context) {
	rules := g.Policy().Rules()
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.String()
	}
	c.JSON(http.StatusOK, gin.H{"rules": out})
}
