// Package gate runs the ordered admission checks every request passes before
// its handler: maintenance first, then per-route throttling.
package gate

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Rejection is a stage's refusal. Body is written as JSON.
type Rejection struct {
	Status  int
	Headers map[string]string
	Body    any
}

// Stage inspects a request and either lets it through (nil) or rejects it.
type Stage interface {
	Name() string
	Check(c *gin.Context) *Rejection
}

type Pipeline struct {
	stages   []Stage
	onReject func(stage string)
}

func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// OnReject registers a hook called with the name of the stage that refused a request.
func (p *Pipeline) OnReject(fn func(stage string)) *Pipeline {
	p.onReject = fn
	return p
}

// Then returns a pipeline with extra stages appended after p's.
func (p *Pipeline) Then(stages ...Stage) *Pipeline {
	all := make([]Stage, 0, len(p.stages)+len(stages))
	all = append(all, p.stages...)
	all = append(all, stages...)
	return &Pipeline{stages: all, onReject: p.onReject}
}

// Evaluate runs the stages in order and returns the first rejection.
func (p *Pipeline) Evaluate(c *gin.Context) (string, *Rejection) {
	for _, s := range p.stages {
		if r := s.Check(c); r != nil {
			return s.Name(), r
		}
	}
	return "", nil
}

func (p *Pipeline) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stage, rej := p.Evaluate(c)
		if rej == nil {
			c.Next()
			return
		}
		if p.onReject != nil {
			p.onReject(stage)
		}
		for k, v := range rej.Headers {
			c.Header(k, v)
		}
		status := rej.Status
		if status == 0 {
			status = http.StatusForbidden
		}
		c.AbortWithStatusJSON(status, rej.Body)
	}
}
