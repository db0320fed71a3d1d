/*
Package api is the HTTP front end of a dispatcher. It accepts tasks as JSON, runs them on the
pool and returns the workers' results.

	POST /task       {"operation": "double", "data": 4}   -> {"result": 8}
	POST /sort       {"values": [5, 2, 8]}                 -> {"task_id": 1, "sorted": [2, 5, 8], "output": "..."}
	POST /increment  {"value": 2}                          -> {"worker_id": 1, "counter": 2}
	GET  /counter                                          -> {"counter": 2}
	GET  /health                                           -> {"status": "ok", "workers": {"worker-1": "ok"}}

Errors are returned as {"error": "..."} with a status code derived from the error class.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dermesser/clusterdispatch/dispatch"
	"github.com/dermesser/clusterdispatch/log"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// How long ListenAndServe waits for running requests when shutting down.
const SHUTDOWN_TIMEOUT = 5 * time.Second

type Options struct {
	// Accepted requests per second; 0 is unlimited.
	RateLimit float64
	// Burst size of the rate limiter; defaults to the rate rounded up.
	RateBurst int
	// Whether to log every request.
	AccessLog bool
}

type Server struct {
	svc     *dispatch.Service
	engine  *gin.Engine
	limiter *rate.Limiter
}

func New(svc *dispatch.Service, opts Options) *Server {
	s := &Server{svc: svc, engine: gin.New()}

	if opts.AccessLog {
		s.engine.Use(gin.Logger())
	}
	s.engine.Use(gin.Recovery())

	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit + 0.999)
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
		s.engine.Use(s.rateLimit)
	}

	s.engine.POST("/task", s.submitTask)
	s.engine.POST("/sort", s.sort)
	s.engine.POST("/increment", s.increment)
	s.engine.GET("/counter", s.counter)
	s.engine.GET("/health", s.health)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Log(log.LOGLEVEL_INFO, "HTTP API listening on", addr)

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) rateLimit(c *gin.Context) {
	if !s.limiter.Allow() {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		return
	}
	c.Next()
}

// Maps an error class to a status code.
func statusCode(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrNoWorkers):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, dispatch.ErrWorkerFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	code := statusCode(err)

	if code == http.StatusInternalServerError {
		log.Log(log.LOGLEVEL_ERRORS, c.Request.Method, c.Request.URL.Path, err.Error())
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}

// Request body errors are the caller's fault.
func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, errors.Join(dispatch.ErrMalformedInput, err))
		return false
	}
	return true
}

type taskRequest struct {
	Operation string          `json:"operation" binding:"required"`
	Data      json.RawMessage `json:"data"`
}

func (s *Server) submitTask(c *gin.Context) {
	var req taskRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.svc.SubmitTask(c.Request.Context(), req.Operation, req.Data)

	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type sortRequest struct {
	Values []int64 `json:"values" binding:"required"`
}

type sortResponse struct {
	TaskID uint64  `json:"task_id"`
	Sorted []int64 `json:"sorted"`
	Output string  `json:"output,omitempty"`
}

func (s *Server) sort(c *gin.Context) {
	var req sortRequest
	if !bindJSON(c, &req) {
		return
	}

	g, err := s.svc.SubmitScatterGather(c.Request.Context(), req.Values)

	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, sortResponse{TaskID: uint64(g.Task), Sorted: g.Result, Output: g.Output})
}

type incrementRequest struct {
	Value *int64 `json:"value"`
}

func (s *Server) increment(c *gin.Context) {
	var req incrementRequest

	// An empty body increments by one.
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	value := int64(1)
	if req.Value != nil {
		value = *req.Value
	}

	result, err := s.svc.Increment(c.Request.Context(), value)

	if err != nil {
		abort(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", result)
}

func (s *Server) counter(c *gin.Context) {
	n, err := s.svc.Counter(c.Request.Context())

	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counter": n})
}

func (s *Server) health(c *gin.Context) {
	workers := make(map[string]string)
	status := "ok"

	for w, err := range s.svc.Health(c.Request.Context()) {
		if err != nil {
			workers[w.String()] = err.Error()
			status = "degraded"
		} else {
			workers[w.String()] = "ok"
		}
	}

	if len(workers) == 0 {
		status = "no workers"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "workers": workers})
}
