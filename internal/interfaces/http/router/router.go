// Package router mounts the operator API onto a gin engine.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiPrefix is where every versioned operator group is mounted
const apiPrefix = "/api/v1"

// group collects the routes of one operator area before they are mounted
type group struct {
	prefix string
	use    []gin.HandlerFunc
	routes []route
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func newGroup(prefix string, use ...gin.HandlerFunc) *group {
	return &group{prefix: prefix, use: use}
}

func (g *group) get(path string, handlers ...gin.HandlerFunc) {
	g.routes = append(g.routes, route{method: http.MethodGet, path: path, handlers: handlers})
}

func (g *group) post(path string, handlers ...gin.HandlerFunc) {
	g.routes = append(g.routes, route{method: http.MethodPost, path: path, handlers: handlers})
}

// mount registers groups under apiPrefix
func mount(engine *gin.Engine, groups ...*group) {
	api := engine.Group(apiPrefix)
	for _, g := range groups {
		rg := api.Group(g.prefix, g.use...)
		for _, r := range g.routes {
			rg.Handle(r.method, r.path, r.handlers...)
		}
	}
}
